package router

import (
	"context"
	"log/slog"

	"hark/internal/config"
	"hark/internal/i18n"
)

// Link delivers a device signal to the shard that owns the device.
type Link interface {
	Signal(ctx context.Context, to, signal string) error
	Connected() bool
}

// broadcast addresses every shard on the hub.
const broadcast = "ALL"

// Devices switches configured devices on exact spoken commands: the
// configured command itself or "turn <command>".
type Devices struct {
	devices []config.Device
	link    Link
	tr      *i18n.Translator
	logger  *slog.Logger
}

// NewDevices returns the device handler. link may be nil when no device
// link is configured.
func NewDevices(devices []config.Device, link Link, tr *i18n.Translator, logger *slog.Logger) *Devices {
	if logger == nil {
		logger = slog.Default()
	}
	return &Devices{
		devices: append([]config.Device(nil), devices...),
		link:    link,
		tr:      tr,
		logger:  logger,
	}
}

func (d *Devices) Name() string { return "devices" }

func (d *Devices) Handle(ctx context.Context, text string) (string, bool, error) {
	cmd := Normalize(text)

	for _, dev := range d.devices {
		switch cmd {
		case Normalize(dev.OnCommand), "turn " + Normalize(dev.OnCommand):
			reply, err := d.Switch(ctx, dev, true)
			return reply, true, err
		case Normalize(dev.OffCommand), "turn " + Normalize(dev.OffCommand):
			reply, err := d.Switch(ctx, dev, false)
			return reply, true, err
		}
	}

	return "", false, nil
}

// Lookup finds a device by name, ignoring case.
func (d *Devices) Lookup(name string) (config.Device, bool) {
	name = Normalize(name)
	for _, dev := range d.devices {
		if Normalize(dev.Name) == name {
			return dev, true
		}
	}
	return config.Device{}, false
}

// Names lists the configured device names.
func (d *Devices) Names() []string {
	names := make([]string, 0, len(d.devices))
	for _, dev := range d.devices {
		names = append(names, dev.Name)
	}
	return names
}

// Switch sends the on or off signal of dev and returns the spoken reply.
func (d *Devices) Switch(ctx context.Context, dev config.Device, on bool) (string, error) {
	if d.link == nil || !d.link.Connected() {
		return d.tr.T("link_disconnected"), nil
	}

	signal, key := dev.OffSignal, "device_off"
	if on {
		signal, key = dev.OnSignal, "device_on"
	}

	to := dev.Target
	if to == "" {
		to = broadcast
	}

	if err := d.link.Signal(ctx, to, signal); err != nil {
		d.logger.Warn("device signal failed", "device", dev.Name, "signal", signal, "err", err)
		return d.tr.T("device_failed", "name", dev.Name), err
	}

	d.logger.Info("device switched", "device", dev.Name, "on", on)
	return d.tr.T(key, "name", dev.Name), nil
}
