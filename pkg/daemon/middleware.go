package daemon

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// quietPaths are polled by machines and only logged at trace level.
var quietPaths = map[string]bool{
	"/metrics":  true,
	"/capacity": true,
}

// streamPaths hold the connection open; their duration is a session length,
// not a latency.
var streamPaths = map[string]bool{
	"/events": true,
}

// requestLogger logs every API request through logger. Failed requests carry
// the error the handler aborted with.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		stream := streamPaths[path]
		if stream {
			logger.WithField("path", path).Debug("event stream opened")
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		fields := logrus.Fields{
			"status": status,
			"method": c.Request.Method,
			"path":   path,
			"bytes":  max(c.Writer.Size(), 0),
		}
		if stream {
			fields["session"] = elapsed.Round(time.Second).String()
		} else {
			fields["latencyMs"] = elapsed.Milliseconds()
		}
		entry := logger.WithFields(fields)

		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			entry = entry.WithField("error", errs.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("request rejected")
		case stream:
			entry.Debug("event stream closed")
		case quietPaths[path]:
			entry.Trace("request served")
		default:
			entry.Debug("request served")
		}
	}
}
