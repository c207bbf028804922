package calcs

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// MaxDegree is the highest polynomial order PolyFit can solve; the normal
// equations are inverted as a 4x4 system.
const MaxDegree = 3

const singularTolerance = 1e-12

var (
	ErrLengthMismatch = errors.New("x and y sample counts differ")
	ErrBadDegree      = errors.New("polynomial degree must be between 1 and 3")
	ErrTooFewSamples  = errors.New("not enough samples for the requested degree")
	ErrSingular       = errors.New("normal equations are singular")
)

// Polynomial holds coefficients in ascending powers of x.
type Polynomial struct {
	Coefficients []float64 `json:"coefficients"`
}

func (p Polynomial) Degree() int {
	return len(p.Coefficients) - 1
}

// Eval evaluates the polynomial at x using Horner's scheme.
func (p Polynomial) Eval(x float64) (y float64) {
	for i := len(p.Coefficients) - 1; i >= 0; i-- {
		y = y*x + p.Coefficients[i]
	}
	return
}

// PolyFit returns the least-squares polynomial of the given degree through the
// samples (x[i], y[i]). The abscissae are scaled into [-1, 1] before the normal
// equations are formed and the coefficients are rescaled afterwards.
func PolyFit(x, y []float64, degree int) (p *Polynomial, err error) {
	if len(x) != len(y) {
		return nil, ErrLengthMismatch
	}
	if degree < 1 || degree > MaxDegree {
		return nil, ErrBadDegree
	}
	n := degree + 1
	if len(x) < n {
		return nil, ErrTooFewSamples
	}

	scale := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > scale {
			scale = a
		}
	}
	if scale == 0 {
		return nil, ErrSingular
	}

	// design matrix, one row per sample
	design := mgl64.NewMatrix(len(x), n)
	for i, xv := range x {
		xs := xv / scale
		pow := 1.0
		for j := 0; j < n; j++ {
			design.Set(i, j, pow)
			pow *= xs
		}
	}

	dt := design.Transpose(nil)
	ata := dt.MulMxN(nil, design)
	aty := dt.MulNx1(nil, mgl64.NewVecNFromData(y))

	// unused rows/cols stay identity so the padded system inverts cleanly
	normal := mgl64.Ident4()
	var rhs mgl64.Vec4
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			normal.Set(i, j, ata.At(i, j))
		}
		rhs[i] = aty.Get(i)
	}

	if math.Abs(normal.Det()) < singularTolerance {
		return nil, ErrSingular
	}
	sol := normal.Inv().Mul4x1(rhs)

	p = &Polynomial{Coefficients: make([]float64, n)}
	s := 1.0
	for i := 0; i < n; i++ {
		p.Coefficients[i] = sol[i] / s
		s *= scale
	}
	return p, nil
}
