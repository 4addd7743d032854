package shadow

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// FloorHeight is the assumed storey height in metres.
const FloorHeight = 2.7

// Building is one footprint in projected metres.
type Building struct {
	ID          string        `json:"id"`
	Footprint   *geom.Polygon `json:"-"`
	Height      float64       `json:"height"`
	HouseNumber string        `json:"housenumber,omitempty"`
}

// Cast pairs a building with its derived shadow. A nil Shadow means the
// building casts none.
type Cast struct {
	BuildingID string
	Shadow     *geom.MultiPolygon
}

var leadingNumber = regexp.MustCompile(`^[-+]?\d*\.?\d+`)

// DeriveHeight picks a building height from OSM-style tags: levels × 2.7 when
// levels parses as a number, otherwise the numeric height tag, otherwise 0.
func DeriveHeight(levels, height string) float64 {
	if l, ok := parseNumber(levels); ok {
		return clampHeight(l * FloorHeight)
	}
	if h, ok := parseNumber(height); ok {
		return clampHeight(h)
	}
	return 0
}

// parseNumber accepts plain numbers and values with a trailing unit such as
// "12 m". Lists like "3;4" take the first entry.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.ReplaceAll(s, ",", ".")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func clampHeight(h float64) float64 {
	if h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	return h
}

var digits = regexp.MustCompile(`\d+`)

// NumericHouseNumber keeps only the digits of an address house number, the
// form used for map labels. "12א" → "12", "7-9" → "79".
func NumericHouseNumber(s string) string {
	return strings.Join(digits.FindAllString(s, -1), "")
}
