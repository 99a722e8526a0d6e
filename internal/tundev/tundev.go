// Package tundev opens the local TUN interface that the client and
// server read plaintext IP packets from and write decrypted IP packets
// to.
package tundev

import (
	"fmt"

	"github.com/songgao/water"
)

// Device wraps a water.Interface to satisfy endpoint.TunDevice.
type Device struct {
	iface *water.Interface
}

// Open creates (or attaches to, on platforms that support persistent
// interfaces) a TUN device named name. An empty name lets the OS
// assign one.
func Open(name string) (*Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tundev: open: %w", err)
	}
	return &Device{iface: iface}, nil
}

// Name returns the OS-assigned interface name.
func (d *Device) Name() string {
	return d.iface.Name()
}

func (d *Device) Read(p []byte) (int, error)  { return d.iface.Read(p) }
func (d *Device) Write(p []byte) (int, error) { return d.iface.Write(p) }
func (d *Device) Close() error                { return d.iface.Close() }
