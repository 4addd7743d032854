// Package sun computes the apparent solar position for a place and time.
package sun

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/soniakeys/meeus/v3/coord"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/refraction"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
	"github.com/soniakeys/unit"
)

// Position is the sun's place in the local sky.
type Position struct {
	Azimuth   float64   `json:"azimuth"`  // degrees clockwise from north, [0, 360)
	Altitude  float64   `json:"altitude"` // apparent elevation in degrees, negative below horizon
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// AboveHorizon reports whether the sun is up.
func (p Position) AboveHorizon() bool {
	return p.Altitude > 0
}

// Compute returns the apparent solar position at lat/lon (degrees, east
// positive) for instant t.
func Compute(lat, lon float64, t time.Time) (Position, error) {
	if lat < -90 || lat > 90 {
		return Position{}, eris.Errorf("sun: latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return Position{}, eris.Errorf("sun: longitude %v out of range", lon)
	}

	jd := julian.TimeToJD(t.UTC())
	α, δ := solar.ApparentEquatorial(jd)
	st := sidereal.Apparent(jd)

	// meeus measures azimuth westward from south and longitude positive west.
	az, h := coord.EqToHz(α, δ, unit.AngleFromDeg(lat), unit.AngleFromDeg(-lon), st)

	alt := h.Deg()
	if alt > -1 {
		alt += refraction.Saemundsson(h).Deg()
	}

	return Position{
		Azimuth:   normalize(az.Deg() + 180),
		Altitude:  alt,
		Time:      t,
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// At resolves a wall-clock time in the named IANA zone and computes the
// position for it.
func At(lat, lon float64, zone string, local time.Time) (Position, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Position{}, eris.Wrapf(err, "sun: load timezone %q", zone)
	}
	t := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	return Compute(lat, lon, t)
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}
