package telemetry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// Position is a geodetic fix from the vehicle.
type Position struct {
	LatitudeDeg       float64 `json:"latitudeDeg"`
	LongitudeDeg      float64 `json:"longitudeDeg"`
	AbsoluteAltitudeM float64 `json:"absoluteAltitudeM"` // height above ellipsoid
	RelativeAltitudeM float64 `json:"relativeAltitudeM"` // above home
}

// VelocityNED is the ground velocity in North-East-Down axes, m/s.
type VelocityNED struct {
	NorthMS float64 `json:"northMS"`
	EastMS  float64 `json:"eastMS"`
	DownMS  float64 `json:"downMS"`
}

// Altitude holds the altitudes that are not part of the geodetic fix.
type Altitude struct {
	TerrainM float64 `json:"terrainM"` // above ground, NaN when unknown
	LocalM   float64 `json:"localM"`
}

// Attitude is the body orientation relative to NED axes as a unit quaternion.
type Attitude struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ConnectionState is one report from the link's connection-state stream.
type ConnectionState struct {
	IsConnected bool
}

var (
	ErrNonFinite = errors.New("non-finite value")
	ErrNoFix     = errors.New("position has no fix")
)

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether p can be published. A zero lat/lon pair is what
// autopilots send before the first GPS fix.
func (p Position) Valid() error {
	if !finite(p.LatitudeDeg, p.LongitudeDeg, p.AbsoluteAltitudeM, p.RelativeAltitudeM) {
		return fmt.Errorf("position: %w", ErrNonFinite)
	}
	if p.LatitudeDeg == 0 && p.LongitudeDeg == 0 {
		return ErrNoFix
	}
	if !s2.LatLngFromDegrees(p.LatitudeDeg, p.LongitudeDeg).IsValid() {
		return fmt.Errorf("position: lat/lon out of range (%.6f, %.6f)", p.LatitudeDeg, p.LongitudeDeg)
	}
	return nil
}

func (v VelocityNED) Valid() error {
	if !finite(v.NorthMS, v.EastMS, v.DownMS) {
		return fmt.Errorf("velocity: %w", ErrNonFinite)
	}
	return nil
}

// Valid only checks the local altitude; a missing terrain altitude is
// substituted when the entity update is built.
func (a Altitude) Valid() error {
	if !finite(a.LocalM) {
		return fmt.Errorf("altitude: local %w", ErrNonFinite)
	}
	return nil
}

// TerrainKnown reports whether the terrain-relative altitude is usable.
func (a Altitude) TerrainKnown() bool {
	return finite(a.TerrainM)
}

func (q Attitude) Valid() error {
	if !finite(q.W, q.X, q.Y, q.Z) {
		return fmt.Errorf("attitude: %w", ErrNonFinite)
	}
	if q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
		return errors.New("attitude: zero quaternion")
	}
	return nil
}
