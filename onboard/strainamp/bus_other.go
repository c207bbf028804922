//go:build !linux

package strainamp

type I2CBus struct{}

func OpenBus(n int) (*I2CBus, error) {
	return nil, ErrUnsupported
}

func (b *I2CBus) ReadRegister(addr, reg uint8, buf []byte) error {
	return ErrUnsupported
}

func (b *I2CBus) Close() error {
	return nil
}
