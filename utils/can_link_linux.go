//go:build linux

package utils

import (
	"fmt"

	"go.einride.tech/can/pkg/candevice"
)

// ConfigureLink sets the interface bitrate and brings it up. An interface
// that is already up is left alone; the kernel refuses bitrate changes then.
func ConfigureLink(iface string, bitrate uint32, log *Logger) error {
	d, err := candevice.New(iface)
	if err != nil {
		return fmt.Errorf("candevice %s: %w", iface, err)
	}
	up, err := d.IsUp()
	if err != nil {
		return fmt.Errorf("candevice %s state: %w", iface, err)
	}
	if up {
		log.Info("CAN link %s already up; bitrate unchanged", iface)
		return nil
	}
	if bitrate > 0 {
		if err := d.SetBitrate(bitrate); err != nil {
			return fmt.Errorf("candevice %s bitrate %d: %w", iface, bitrate, err)
		}
	}
	if err := d.SetUp(); err != nil {
		return fmt.Errorf("candevice %s up: %w", iface, err)
	}
	log.Info("CAN link %s up at %d bit/s", iface, bitrate)
	return nil
}
