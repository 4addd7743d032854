// Package weights derives exposure-aware edge costs from length and shadow
// coverage.
package weights

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shaderoute/internal/coverage"
	"github.com/sells-group/shaderoute/internal/streetgraph"
)

// LengthKey names the plain geometric length weight.
const LengthKey = "length"

// ErrUnknownKey is returned for a weight name that is neither "length" nor
// a configured cost_i.
var ErrUnknownKey = eris.New("weights: unknown weight key")

// DefaultDivisors are the shade discounts for cost_1..cost_4.
func DefaultDivisors() []float64 {
	return []float64{1, 10, 50, 80}
}

// Synthesizer computes cost_1..cost_k for every edge.
type Synthesizer struct {
	divisors []float64
}

// NewSynthesizer validates divisors. Every divisor must be finite and > 0.
func NewSynthesizer(divisors []float64) (*Synthesizer, error) {
	if len(divisors) == 0 {
		return nil, eris.New("weights: at least one divisor is required")
	}
	for i, d := range divisors {
		if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
			return nil, eris.Errorf("weights: divisor %d is %v, must be finite and > 0", i, d)
		}
	}
	return &Synthesizer{divisors: append([]float64(nil), divisors...)}, nil
}

// Divisors returns a copy of the configured divisors.
func (s *Synthesizer) Divisors() []float64 {
	return append([]float64(nil), s.divisors...)
}

// Keys returns cost_1..cost_k in divisor order.
func (s *Synthesizer) Keys() []string {
	keys := make([]string, len(s.divisors))
	for i := range s.divisors {
		keys[i] = KeyFor(i)
	}
	return keys
}

// KeyFor returns the weight name for the divisor at 0-based position i.
func KeyFor(i int) string {
	return fmt.Sprintf("cost_%d", i+1)
}

// IndexOf parses a cost_i name back to its 0-based position.
func IndexOf(key string) (int, bool) {
	n, ok := strings.CutPrefix(key, "cost_")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 {
		return 0, false
	}
	return i - 1, true
}

// Edge returns the costs of one edge. shadow = coverage/100 × length and
// cost_i = length − shadow·(1 − 1/d_i), so cost_1 is exactly length and an
// unshaded edge costs its length under every divisor.
func (s *Synthesizer) Edge(length, coveragePct float64) ([]float64, error) {
	if math.IsNaN(length) || math.IsInf(length, 0) || length < 0 {
		return nil, eris.Errorf("weights: invalid length %v", length)
	}
	if math.IsNaN(coveragePct) || coveragePct < 0 || coveragePct > 100 {
		return nil, eris.Errorf("weights: coverage %v outside [0,100]", coveragePct)
	}
	shadow := coveragePct / 100 * length
	costs := make([]float64, len(s.divisors))
	for i, d := range s.divisors {
		c := length - shadow*(1-1/d)
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 {
			return nil, eris.Errorf("weights: %s evaluates to %v", KeyFor(i), c)
		}
		costs[i] = c
	}
	return costs, nil
}

// Synthesize computes the cost table for every edge of g. Edges absent from
// cov are treated as unshaded.
func (s *Synthesizer) Synthesize(g *streetgraph.Graph, cov coverage.Coverage) (*Table, error) {
	t := &Table{
		keys:    s.Keys(),
		lengths: make(map[streetgraph.EdgeKey]float64, g.NumEdges()),
		costs:   make(map[streetgraph.EdgeKey][]float64, g.NumEdges()),
	}
	for _, e := range g.Edges() {
		costs, err := s.Edge(e.Length, cov.Of(e.EdgeKey))
		if err != nil {
			return nil, eris.Wrapf(err, "weights: edge %s", e.EdgeKey)
		}
		t.lengths[e.EdgeKey] = e.Length
		t.costs[e.EdgeKey] = costs
	}

	zap.L().Debug("weights: synthesized",
		zap.Int("edges", g.NumEdges()),
		zap.Strings("keys", t.keys),
	)
	return t, nil
}

// Table is the per-edge weight overlay: "length" plus cost_1..cost_k.
type Table struct {
	keys    []string
	lengths map[streetgraph.EdgeKey]float64
	costs   map[streetgraph.EdgeKey][]float64
}

// Keys returns every weight name the table answers, "length" first.
func (t *Table) Keys() []string {
	return append([]string{LengthKey}, t.keys...)
}

// Has reports whether key names a weight in t.
func (t *Table) Has(key string) bool {
	if key == LengthKey {
		return true
	}
	i, ok := IndexOf(key)
	return ok && i < len(t.keys)
}

// Weight returns the value of key on edge k.
func (t *Table) Weight(key string, k streetgraph.EdgeKey) (float64, error) {
	if key == LengthKey {
		l, ok := t.lengths[k]
		if !ok {
			return 0, eris.Errorf("weights: no edge %s", k)
		}
		return l, nil
	}
	i, ok := IndexOf(key)
	if !ok || i >= len(t.keys) {
		return 0, eris.Wrapf(ErrUnknownKey, "weights: %q", key)
	}
	costs, ok := t.costs[k]
	if !ok {
		return 0, eris.Errorf("weights: no edge %s", k)
	}
	return costs[i], nil
}

// Costs returns cost_1..cost_k for edge k keyed by name.
func (t *Table) Costs(k streetgraph.EdgeKey) map[string]float64 {
	costs, ok := t.costs[k]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(costs))
	for i, c := range costs {
		out[t.keys[i]] = c
	}
	return out
}
