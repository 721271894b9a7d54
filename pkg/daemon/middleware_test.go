package daemon

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	r := gin.New()
	r.Use(requestLogger(logger))
	r.GET("/status", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/capacity", func(c *gin.Context) { c.String(http.StatusOK, "50") })
	r.PUT("/consumer", func(c *gin.Context) {
		abort(c, http.StatusBadRequest, errors.New("invalid consumer"))
	})
	r.GET("/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		method string
		path   string
		level  logrus.Level
		msg    string
		field  string
	}{
		{http.MethodGet, "/status", logrus.DebugLevel, "request served", "latencyMs"},
		{http.MethodGet, "/capacity", logrus.TraceLevel, "request served", "latencyMs"},
		{http.MethodPut, "/consumer", logrus.WarnLevel, "request rejected", "error"},
		{http.MethodGet, "/events", logrus.DebugLevel, "event stream closed", "session"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			hook.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			e := hook.LastEntry()
			require.NotNil(t, e)
			assert.Equal(t, tt.level, e.Level)
			assert.Equal(t, tt.msg, e.Message)
			assert.Equal(t, tt.path, e.Data["path"])
			assert.Contains(t, e.Data, tt.field)
		})
	}

	hook.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "event stream opened", hook.AllEntries()[0].Message)
}
