package units

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDefinition(t *testing.T) {
	Convey("Default definition is SI", t, func() {
		d := Default()
		So(d.Unit(Position), ShouldEqual, "rad")
		So(d.FromSI(Position, 1.5), ShouldEqual, 1.5)
		So(d.FromSI(Temperature, 40), ShouldEqual, 40)
	})

	Convey("Display units round trip through SI", t, func() {
		d := Default()
		So(d.Set(Position, "deg"), ShouldBeNil)
		So(d.FromSI(Position, math.Pi), ShouldAlmostEqual, 180)
		So(d.ToSI(Position, 90), ShouldAlmostEqual, math.Pi/2)

		So(d.Set(Temperature, "F"), ShouldBeNil)
		So(d.FromSI(Temperature, 100), ShouldAlmostEqual, 212)
		So(d.ToSI(Temperature, 32), ShouldAlmostEqual, 0)

		So(d.Set(Current, "mA"), ShouldBeNil)
		So(d.FromSI(Current, 1.2), ShouldAlmostEqual, 1200)
	})

	Convey("Unknown units are rejected", t, func() {
		d := Default()
		err := d.Set(Force, "furlong")
		So(err, ShouldResemble, UnknownUnitError{Force, "furlong"})
		So(d.Unit(Force), ShouldEqual, "N")
		So(Valid(Temperature, "R"), ShouldBeFalse)
	})

	Convey("Missing entries fall back to SI", t, func() {
		d := Definition{}
		So(d.Unit(Torque), ShouldEqual, "N*m")
		So(Available(Voltage), ShouldResemble, []string{"V", "mV"})
	})
}
