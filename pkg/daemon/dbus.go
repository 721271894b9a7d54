package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/voltgauge/pkg/chargesource"
	"github.com/charlie0129/voltgauge/pkg/consumer"
	"github.com/charlie0129/voltgauge/pkg/events"
)

const (
	dbusName = "io.github.charlie0129.voltgauge"
	dbusPath = "/io/github/charlie0129/voltgauge"
)

// dbusService exposes the gauge on the system bus, for drivers and
// platform code that report load and charger changes.
type dbusService struct {
	gauge *Gauge
}

func startDBusService(g *Gauge, hub *events.Hub) (func(), error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}

	s := &dbusService{gauge: g}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return nil, err
	}
	if err := conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}
	logrus.WithField("name", dbusName).Info("dbus service started")

	// Capacity changes are mirrored as signals.
	ch := hub.Subscribe()
	go func() {
		for ev := range ch {
			if ev.Name != events.Capacity {
				continue
			}
			var c events.CapacityEvent
			if err := json.Unmarshal(ev.Data, &c); err != nil {
				continue
			}
			if err := conn.Emit(dbusPath, dbusName+".CapacityChanged", int32(c.To), c.Charging); err != nil {
				logrus.WithError(err).Warn("failed to emit capacity signal")
			}
		}
	}()

	return func() {
		hub.Unsubscribe(ch)
		if _, err := conn.ReleaseName(dbusName); err != nil {
			logrus.WithError(err).Warn("failed to release dbus name")
		}
	}, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func (s *dbusService) Capacity() (int32, *dbus.Error) {
	capacity, err := s.gauge.Capacity(context.Background())
	if err != nil {
		return 0, makeDbusError(".NotSeeded", err)
	}
	return int32(capacity), nil
}

func (s *dbusService) NotifyConsumer(name string, on bool) *dbus.Error {
	c, err := consumer.Parse(name)
	if err != nil {
		return makeDbusError(".InvalidConsumer", err)
	}
	if err := s.gauge.NotifyConsumer(c, on); err != nil {
		return makeDbusError(".NotifyConsumer", err)
	}
	return nil
}

func (s *dbusService) ReportChargerType(name string) (bool, *dbus.Error) {
	return s.gauge.ReportChargerType(chargesource.ParseChargerType(name)), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
