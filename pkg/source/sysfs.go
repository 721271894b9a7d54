package source

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// DefaultSysfsRoot is where Linux exposes power supply class devices.
const DefaultSysfsRoot = "/sys/class/power_supply"

// Sysfs reads a Linux power_supply device directly. voltage_now is already
// in microvolts and temp in tenths of a degree.
type Sysfs struct {
	root string
	name string
}

// NewSysfs returns a reader for /sys/class/power_supply/<name>. An empty
// root selects DefaultSysfsRoot.
func NewSysfs(root, name string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{root: root, name: name}
}

func (s *Sysfs) Name() string {
	return "sysfs/" + s.name
}

func (s *Sysfs) ReadVoltage(ctx context.Context) (int, error) {
	v, err := s.readInt(ctx, "voltage_now")
	if err != nil {
		return 0, fetchError("read voltage", err)
	}
	return v, nil
}

func (s *Sysfs) ReadTemperature(ctx context.Context) (int, error) {
	v, err := s.readInt(ctx, "temp")
	if os.IsNotExist(pkgerrors.Cause(err)) {
		return 0, ErrTemperatureUnsupported
	}
	if err != nil {
		return 0, fetchError("read temperature", err)
	}
	return v, nil
}

func (s *Sysfs) readInt(ctx context.Context, attr string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p := filepath.Join(s.root, s.name, attr)
	b, err := os.ReadFile(p)
	if err != nil {
		return 0, pkgerrors.WithStack(err)
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to parse %s", p)
	}
	return v, nil
}
