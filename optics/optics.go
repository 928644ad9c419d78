// Package optics converts photodetector voltages into absorbance and
// transmittance.
//
// The conversion follows the instrument's calibration curve: the ratio of the
// dark-corrected blank and sample voltages is offset by BlankOffset before the
// logarithm, and anything beyond RatioCeiling or outside the optical path
// saturates at SaturationAbsorbance.
package optics

import "math"

const (
	// DarkVoltage is the sensor output with no light at all.
	DarkVoltage = 0.110

	// SaturationAbsorbance is reported when light is fully blocked or the
	// optical path is invalid.
	SaturationAbsorbance = 2.00

	// RatioCeiling caps the offset ratio fed into log10.
	RatioCeiling = 100.0

	// BlankOffset is subtracted from the voltage ratio before the logarithm.
	BlankOffset = 0.5

	// MaxTransmittance is the transmittance of a perfectly clear sample, in percent.
	MaxTransmittance = 100.0
)

// Result is a clamped absorbance/transmittance pair ready for display.
type Result struct {
	Absorbance    float64
	Transmittance float64
}

// Absorbance returns the unclamped absorbance of a sample voltage v relative
// to the blank voltage v0, with vd as the dark voltage.
func Absorbance(v0, v, vd float64) float64 {
	numerator := v0 - vd
	denominator := v - vd
	if denominator <= 0 || numerator <= 0 {
		return SaturationAbsorbance
	}
	ratio := numerator/denominator - BlankOffset
	if ratio > RatioCeiling {
		return SaturationAbsorbance
	}
	a := math.Log10(ratio)
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return SaturationAbsorbance
	}
	return a
}

// Transmittance returns the transmitted light in percent for absorbance a.
func Transmittance(a float64) float64 {
	if a >= SaturationAbsorbance {
		return 0
	}
	return MaxTransmittance * math.Pow(10, -a)
}

// ClampAbsorbance limits a to [0, SaturationAbsorbance].
func ClampAbsorbance(a float64) float64 {
	return clamp(a, 0, SaturationAbsorbance)
}

// ClampTransmittance limits t to [0, MaxTransmittance].
func ClampTransmittance(t float64) float64 {
	return clamp(t, 0, MaxTransmittance)
}

// Compute returns the display values for sample voltage v against blank v0.
// Transmittance is derived from the clamped absorbance so the pair stays
// consistent. Equal v0 and v give a ratio of 0.5 (not a zero denominator),
// which clamps to 0 A / 100 %.
func Compute(v0, v, vd float64) Result {
	a := ClampAbsorbance(Absorbance(v0, v, vd))
	return Result{
		Absorbance:    a,
		Transmittance: ClampTransmittance(Transmittance(a)),
	}
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return hi
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
