// Package strainamp reads the six-channel strain amplifier that digitises the
// load cell when it is not wired through a joint's auxiliary channels.
package strainamp

import "errors"

const I2C_SLAVE = 0x0703

var ErrUnsupported = errors.New("i2c is not supported on this platform")

// Bus reads registers from devices on one I2C bus.
type Bus interface {
	ReadRegister(addr, reg uint8, buf []byte) error
	Close() error
}
