package strainamp

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

type I2CBus struct {
	fd   int
	lock sync.Mutex
	addr int
}

// OpenBus opens /dev/i2c-<n>.
func OpenBus(n int) (bus *I2CBus, err error) {
	fd, err := unix.Open(fmt.Sprintf("/dev/i2c-%d", n), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %d: %w", n, err)
	}
	return &I2CBus{fd: fd, addr: -1}, nil
}

func (b *I2CBus) ReadRegister(addr, reg uint8, buf []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.addr != int(addr) {
		if err := unix.IoctlSetInt(b.fd, I2C_SLAVE, int(addr)); err != nil {
			return fmt.Errorf("select i2c device 0x%02x: %w", addr, err)
		}
		b.addr = int(addr)
	}

	if _, err := unix.Write(b.fd, []byte{reg}); err != nil {
		return err
	}
	n, err := unix.Read(b.fd, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short i2c read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (b *I2CBus) Close() error {
	return unix.Close(b.fd)
}
