package calcs

// PressureCentroid returns the centre of pressure in the sensor plane (metres)
// for a vertical load fz and the in-plane moments mx, my. Loads below minForce
// are treated as no contact and report ok = false.
func PressureCentroid(fz, mx, my, minForce float64) (x, y float64, ok bool) {
	if fz < 0 {
		fz, mx, my = -fz, -mx, -my
	}
	if fz < minForce || fz == 0 {
		return 0, 0, false
	}

	x = -my / fz
	y = mx / fz
	return x, y, true
}
