package automation

import (
	"context"
	"time"

	"github.com/nerrad567/grott-scheduler/internal/gateway"
	"github.com/nerrad567/grott-scheduler/internal/settings"
)

// SettingsSource returns the gateway settings in effect right now.
// *settings.Resolver satisfies it.
type SettingsSource interface {
	Gateway(ctx context.Context) (settings.Gateway, error)
}

// Device reads live registers through the gateway client using the
// current settings. An empty serial means the configured inverter.
type Device struct {
	client   *gateway.Client
	settings SettingsSource
	timeout  time.Duration
}

// NewDevice creates a Device.
func NewDevice(client *gateway.Client, settings SettingsSource, timeout time.Duration) *Device {
	return &Device{client: client, settings: settings, timeout: timeout}
}

// ReadRegister reads one register and returns the decoded reply.
func (d *Device) ReadRegister(ctx context.Context, serial string, number int) (gateway.ReadResult, error) {
	gw, err := d.settings.Gateway(ctx)
	if err != nil {
		return gateway.ReadResult{}, err
	}
	if serial == "" {
		serial = gw.InverterSerial
	}
	return d.client.ReadRegister(ctx, gw.BaseURL(), serial, number, d.timeout)
}

// ReadValue reads one register and returns its value field.
func (d *Device) ReadValue(ctx context.Context, serial string, number int) (string, error) {
	res, err := d.ReadRegister(ctx, serial, number)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}
