package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/voltgauge/pkg/chargesource"
	"github.com/charlie0129/voltgauge/pkg/config"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/events"
	"github.com/charlie0129/voltgauge/pkg/metrics"
	"github.com/charlie0129/voltgauge/pkg/source"
	"github.com/charlie0129/voltgauge/pkg/types"
	"github.com/charlie0129/voltgauge/pkg/version"
)

// server holds what the HTTP handlers need.
type server struct {
	gauge  *Gauge
	conf   config.Config
	poller *Poller
	hub    *events.Hub
}

func setupRoutes(s *server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	router.GET("/config", s.getConfig)
	router.GET("/capacity", s.getCapacity)
	router.GET("/voltage", s.getVoltage)
	router.GET("/temperature", s.getTemperature)
	router.GET("/status", s.getStatus)
	router.GET("/charge-source", s.getChargeSource)
	router.PUT("/charge-source", s.setChargeSource)
	router.PUT("/charger-type", s.setChargerType)
	router.PUT("/consumer", s.setConsumer)
	router.PUT("/charging", s.setCharging)
	router.PUT("/vbus-power", s.setVBusPower)
	router.PUT("/current-limit", s.setCurrentLimit)
	router.PUT("/poll-period", s.setPollPeriod)
	router.GET("/events", s.getEvents)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/version", getVersion)

	return router
}

func abort(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func (s *server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *server) getCapacity(c *gin.Context) {
	capacity, err := s.gauge.Capacity(c.Request.Context())
	if err != nil {
		abort(c, http.StatusServiceUnavailable, err)
		return
	}
	c.IndentedJSON(http.StatusOK, capacity)
}

func (s *server) getVoltage(c *gin.Context) {
	uv, err := s.gauge.Voltage(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, source.ErrFetchTimeout) {
			code = http.StatusGatewayTimeout
		}
		abort(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusOK, uv)
}

func (s *server) getTemperature(c *gin.Context) {
	t, err := s.gauge.Temperature(c.Request.Context())
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, source.ErrTemperatureUnsupported):
			code = http.StatusNotImplemented
		case errors.Is(err, source.ErrFetchTimeout):
			code = http.StatusGatewayTimeout
		}
		abort(c, code, err)
		return
	}
	c.IndentedJSON(http.StatusOK, t)
}

func (s *server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.gauge.Status())
}

func (s *server) getChargeSource(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.gauge.ChargeSource().String())
}

func (s *server) setChargeSource(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	src, err := chargesource.ParseSource(name)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	changed := s.gauge.SetChargeSource(src)
	c.IndentedJSON(http.StatusCreated, types.ChangeResponse{Changed: changed})
}

func (s *server) setChargerType(c *gin.Context) {
	var name string
	if err := c.BindJSON(&name); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	t := chargesource.ParseChargerType(name)
	logrus.WithField("chargerType", t.String()).Info("charger type reported")

	changed := s.gauge.ReportChargerType(t)
	c.IndentedJSON(http.StatusCreated, types.ChangeResponse{Changed: changed})
}

func (s *server) setConsumer(c *gin.Context) {
	var req types.ConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	cons, err := consumer.Parse(req.Consumer)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.gauge.NotifyConsumer(cons, req.On); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) setCharging(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.gauge.SetChargingEnabled(enabled); err != nil {
		logrus.Errorf("setCharging failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set charging enabled to %t", enabled)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) setVBusPower(c *gin.Context) {
	var on bool
	if err := c.BindJSON(&on); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.gauge.SetVBusPower(on); err != nil {
		logrus.Errorf("setVBusPower failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "ok")
}

func (s *server) setCurrentLimit(c *gin.Context) {
	var ma int
	if err := c.BindJSON(&ma); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if ma < 0 {
		abort(c, http.StatusBadRequest, fmt.Errorf("current limit must not be negative, got %d", ma))
		return
	}

	if err := s.gauge.SetCurrentLimit(ma); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set current limit to %d mA", ma))
}

func (s *server) setPollPeriod(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if d < time.Second {
		abort(c, http.StatusBadRequest, fmt.Errorf("poll period must be at least 1s, got %s", d))
		return
	}

	if err := s.conf.Update(func(conf config.Config) { conf.SetPollPeriod(d) }); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	curves, err := s.conf.Curves()
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	s.gauge.Reconfigure(curves, d, s.conf.Temperature())
	if s.poller != nil {
		s.poller.SetPeriods(d, s.conf.UnreliablePollPeriod())
	}

	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set poll period to %s", d)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set poll period to %s", d))
}

func (s *server) getEvents(c *gin.Context) {
	if s.hub == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("event stream is not available"))
		return
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
