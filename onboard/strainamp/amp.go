package strainamp

const (
	MEM_R_CH1_H = 8
	READ_LENGTH = 9
)

// Amp is one strain amplifier at a bus address. It satisfies the load cell's
// raw source interface.
type Amp struct {
	bus  Bus
	addr uint8
	buf  [READ_LENGTH]byte
}

func New(bus Bus, addr uint8) *Amp {
	return &Amp{bus: bus, addr: addr}
}

func (a *Amp) ReadRaw() (ch [6]float64, err error) {
	if err = a.bus.ReadRegister(a.addr, MEM_R_CH1_H, a.buf[:]); err != nil {
		return
	}
	return Unpack(a.buf[:]), nil
}

func (a *Amp) Close() error {
	return a.bus.Close()
}

// Unpack expands nine bytes of packed 12-bit samples into six channels.
func Unpack(d []byte) (ch [6]float64) {
	for i := 0; i < 3; i++ {
		b0, b1, b2 := uint16(d[i*3]), uint16(d[i*3+1]), uint16(d[i*3+2])
		ch[i*2] = float64(b0<<4 | (b1>>4)&0x0F)
		ch[i*2+1] = float64((b1<<8)&0x0F00 | b2)
	}
	return
}
