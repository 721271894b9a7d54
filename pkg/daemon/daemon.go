package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/voltgauge/pkg/charger"
	"github.com/charlie0129/voltgauge/pkg/config"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/events"
	"github.com/charlie0129/voltgauge/pkg/source"
)

// openSource builds the reader chain for the configured source: the raw
// reader, bounded by the fetch timeout, cached, behind a circuit breaker.
// The returned closer releases hardware handles.
func openSource(conf config.Config) (source.Source, io.Closer, error) {
	var (
		raw    source.Source
		closer io.Closer
	)

	switch conf.Source() {
	case config.SourceStatic:
		raw = source.NewStatic(conf.StaticMicrovolts())
	case config.SourcePowerSupply:
		raw = source.NewPowerSupply(0)
	case config.SourceSysfs:
		raw = source.NewSysfs(source.DefaultSysfsRoot, conf.SourceName())
	case config.SourceINA219:
		dev, err := source.OpenINA219(conf.I2CBus(), conf.I2CAddress())
		if err != nil {
			return nil, nil, pkgerrors.Wrap(err, "failed to open ina219")
		}
		raw, closer = dev, dev
	default:
		return nil, nil, pkgerrors.Wrapf(config.ErrConfiguration, "unknown source %q", conf.Source())
	}

	src := source.WithTimeout(raw, conf.FetchTimeout())
	if interval := conf.SourceCacheInterval(); interval > 0 {
		src = source.Cached(src, interval)
	}
	src = source.WithBreaker(src, source.BreakerSettings{})

	return src, closer, nil
}

func sensitiveConsumers(conf config.Config) ([]consumer.Consumer, error) {
	names := conf.SensitiveConsumers()
	if len(names) == 0 {
		return consumer.DefaultSensitive, nil
	}
	out := make([]consumer.Consumer, 0, len(names))
	for _, n := range names {
		c, err := consumer.Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	if err := conf.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	curves, err := conf.Curves()
	if err != nil {
		return err
	}
	sensitive, err := sensitiveConsumers(conf)
	if err != nil {
		return err
	}
	registry, err := consumer.NewRegistry(sensitive...)
	if err != nil {
		return err
	}

	src, closer, err := openSource(conf)
	if err != nil {
		return err
	}

	hub := events.NewHub()
	thresholds := conf.Temperature()
	gauge, err := NewGauge(GaugeOptions{
		Source:     src,
		Curves:     curves,
		Consumers:  registry,
		Charger:    charger.Logging{},
		Thresholds: &thresholds,
		Hub:        hub,
		PollPeriod: conf.PollPeriod(),
	})
	if err != nil {
		return err
	}

	poller := NewPoller(
		func() error {
			_, err := gauge.Poll(context.Background())
			return err
		},
		func(data any) {
			logrus.Warnf("scheduled capacity update failed: %v", data)
		},
		conf.PollPeriod(),
		conf.UnreliablePollPeriod(),
	)
	gauge.AttachPoller(poller)

	router := setupRoutes(&server{
		gauge:  gauge,
		conf:   conf,
		poller: poller,
		hub:    hub,
	})

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			if err := reload(conf, gauge, poller); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	var stopDBus func()
	if conf.DBus() {
		stopDBus, err = startDBusService(gauge, hub)
		if err != nil {
			logrus.Errorf("failed to start dbus service: %v", err)
		}
	}

	logrus.Debugln("poller starts")
	poller.Start()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping poller")
	poller.Stop()

	if stopDBus != nil {
		logrus.Info("releasing dbus name")
		stopDBus()
	}

	if closer != nil {
		logrus.Info("closing voltage source")
		if err := closer.Close(); err != nil {
			logrus.Errorf("failed to close voltage source: %v", err)
		}
	}

	logrus.Info("exiting")
	return nil
}

// reload re-reads the config file and applies what can change at runtime.
// An invalid file leaves the running config untouched. The source chain is
// fixed for the life of the daemon.
func reload(conf config.Config, g *Gauge, p *Poller) error {
	if err := conf.Reload(); err != nil {
		return err
	}
	curves, err := conf.Curves()
	if err != nil {
		return err
	}
	g.Reconfigure(curves, conf.PollPeriod(), conf.Temperature())
	p.SetPeriods(conf.PollPeriod(), conf.UnreliablePollPeriod())
	return nil
}
