package strainamp

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeBus struct {
	data   []byte
	err    error
	addr   uint8
	reg    uint8
	closed bool
}

func (b *fakeBus) ReadRegister(addr, reg uint8, buf []byte) error {
	b.addr, b.reg = addr, reg
	if b.err != nil {
		return b.err
	}
	copy(buf, b.data)
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func TestUnpack(t *testing.T) {
	Convey("Packed 12 bit pairs expand to six channels", t, func() {
		ch := Unpack([]byte{0x80, 0x08, 0x00, 0xFF, 0xF0, 0x01, 0x12, 0x34, 0x56})
		So(ch, ShouldResemble, [6]float64{0x800, 0x800, 0xFFF, 0x001, 0x123, 0x456})
	})
}

func TestAmp(t *testing.T) {
	Convey("Reads go to the channel registers of the addressed amp", t, func() {
		bus := &fakeBus{data: []byte{0x80, 0x08, 0x00, 0x80, 0x08, 0x00, 0x80, 0x08, 0x00}}
		amp := New(bus, 0x66)

		ch, err := amp.ReadRaw()
		So(err, ShouldBeNil)
		So(bus.addr, ShouldEqual, 0x66)
		So(bus.reg, ShouldEqual, MEM_R_CH1_H)
		So(ch, ShouldResemble, [6]float64{2048, 2048, 2048, 2048, 2048, 2048})

		So(amp.Close(), ShouldBeNil)
		So(bus.closed, ShouldBeTrue)
	})

	Convey("Bus errors are returned", t, func() {
		amp := New(&fakeBus{err: errors.New("nack")}, 0x66)
		_, err := amp.ReadRaw()
		So(err, ShouldNotBeNil)
	})
}
