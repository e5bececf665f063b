//go:build !linux

package utils

import "errors"

// ConfigureLink is only supported on Linux.
func ConfigureLink(iface string, bitrate uint32, log *Logger) error {
	return errors.New("CAN link configuration requires linux")
}
