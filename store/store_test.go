package store

import (
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/osl/calcs"
)

func openTestStore(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEncoderMaps(t *testing.T) {
	Convey("Given an empty store", t, func() {
		s := openTestStore(t)
		Reset(func() { s.Close() })

		Convey("an uncalibrated joint has no map", func() {
			p, err := s.LoadEncoderMap("knee")
			So(err, ShouldBeNil)
			So(p, ShouldBeNil)
		})

		Convey("a saved map is loaded back", func() {
			So(s.SaveEncoderMap("knee", calcs.Polynomial{Coefficients: []float64{0, 0.2, 0.01}}), ShouldBeNil)

			p, err := s.LoadEncoderMap("knee")
			So(err, ShouldBeNil)
			So(p.Coefficients, ShouldResemble, []float64{0, 0.2, 0.01})

			Convey("and replaced by the next calibration", func() {
				So(s.SaveEncoderMap("knee", calcs.Polynomial{Coefficients: []float64{1}}), ShouldBeNil)
				p, _ := s.LoadEncoderMap("knee")
				So(p.Coefficients, ShouldResemble, []float64{1})

				maps, err := s.EncoderMaps()
				So(err, ShouldBeNil)
				So(maps, ShouldHaveLength, 1)
				So(maps[0].CalibratedAt.IsZero(), ShouldBeFalse)
			})
		})
	})
}

func TestOperator(t *testing.T) {
	Convey("Methods work as expected", t, func() {
		op := new(Operator)
		Convey("Setting and verify password works correctly with hashes", func() {
			So(op.SetPassword([]byte("hello123")), ShouldBeNil)
			So(op.Password, ShouldStartWith, "$")

			So(op.VerifyPassword([]byte("hello123")), ShouldBeNil)
			So(op.VerifyPassword([]byte("hello12")), ShouldNotBeNil)
		})

		Convey("Invalid hash returns the correct error code", func() {
			op.Password = "I DON'T WORK"
			So(op.VerifyPassword([]byte("hello123")).Error(), ShouldContainSubstring, "hashedSecret too short")
		})
	})

	Convey("Operators are looked up by email", t, func() {
		s := openTestStore(t)
		Reset(func() { s.Close() })

		op := &Operator{Email: "clinician@test.case", Name: "Clinician"}
		So(op.SetPassword([]byte("testing123")), ShouldBeNil)
		So(s.SaveOperator(op), ShouldBeNil)
		So(op.ID, ShouldBeGreaterThan, 0)

		found, err := s.OperatorByEmail("clinician@test.case")
		So(err, ShouldBeNil)
		So(found.Name, ShouldEqual, "Clinician")
		So(found.VerifyPassword([]byte("testing123")), ShouldBeNil)

		_, err = s.OperatorByEmail("nobody@test.case")
		So(err, ShouldEqual, ErrNotFound)

		dup := &Operator{Email: "clinician@test.case"}
		So(s.SaveOperator(dup), ShouldNotBeNil)
	})
}
