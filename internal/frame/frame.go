// Package frame converts vehicle orientation and velocity from the
// North-East-Down frame used by flight controllers to the East-North-Up
// frame expected by the publishing service.
package frame

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// NED is a vector in North-East-Down axes.
type NED struct {
	N float64
	E float64
	D float64
}

// ENU is a vector in East-North-Up axes.
type ENU struct {
	E float64
	N float64
	U float64
}

// nedToENU is qz(90°) ⊗ qx(180°): a half turn about the (1, 1, 0) axis.
var nedToENU = quat.Mul(
	quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)},
	quat.Number{Real: math.Cos(math.Pi / 2), Imag: math.Sin(math.Pi / 2)},
)

// ToENU re-expresses a NED-referenced attitude quaternion against ENU axes.
// The input is assumed to be a finite unit quaternion; the result is
// renormalised.
func ToENU(q quat.Number) quat.Number {
	return Normalize(quat.Mul(nedToENU, q))
}

// VelocityENU swaps north/east and flips down to up. The components are
// copied exactly, nothing is rotated numerically.
func VelocityENU(v NED) ENU {
	return ENU{E: v.E, N: v.N, U: -v.D}
}

// Normalize scales q to unit length. A zero quaternion is returned as is.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return q
	}
	return quat.Scale(1/n, q)
}
