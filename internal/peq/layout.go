package peq

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Topology fixes which filter type each band of a chain has
type Topology int

const (
	// Pk makes every band a peak
	Pk Topology = iota
	// HpPk puts a highpass first and peaks after it
	HpPk
	// HpPkLp adds a lowpass as the last band
	HpPkLp
	// FreePkFree lets the first and last band choose their type
	FreePkFree
	// Free lets every band choose its type
	Free
)

var topologyNames = [...]string{
	Pk:         "pk",
	HpPk:       "hp-pk",
	HpPkLp:     "hp-pk-lp",
	FreePkFree: "free-pk-free",
	Free:       "free",
}

// Topologies lists every supported topology
func Topologies() []Topology {
	return []Topology{Pk, HpPk, HpPkLp, FreePkFree, Free}
}

// ParseTopology maps a topology name to its value
func ParseTopology(name string) (Topology, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Pk, nil
	}
	for i, n := range topologyNames {
		if n == key {
			return Topology(i), nil
		}
	}
	return 0, fmt.Errorf("unknown PEQ model %q", name)
}

func (t Topology) String() string {
	if t < 0 || int(t) >= len(topologyNames) {
		return fmt.Sprintf("Topology(%d)", int(t))
	}
	return topologyNames[t]
}

// MarshalText implements encoding.TextMarshaler
func (t Topology) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(topologyNames) {
		return nil, fmt.Errorf("invalid topology %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Topology) UnmarshalText(b []byte) error {
	v, err := ParseTopology(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsFree reports whether band i of n picks its own type
func (t Topology) IsFree(i, n int) bool {
	switch t {
	case Free:
		return true
	case FreePkFree:
		return i == 0 || i == n-1
	}
	return false
}

// BandType is the fixed type of band i of n. Free bands report Peak.
func (t Topology) BandType(i, n int) FilterType {
	switch t {
	case HpPk:
		if i == 0 {
			return HighPass
		}
	case HpPkLp:
		if i == 0 {
			return HighPass
		}
		if i == n-1 && n > 1 {
			return LowPass
		}
	}
	return Peak
}

// Limits are the physical search ranges of a band
type Limits struct {
	MinFreq float64 `json:"min_freq"`
	MaxFreq float64 `json:"max_freq"`
	MinQ    float64 `json:"min_q"`
	MaxQ    float64 `json:"max_q"`
	MinGain float64 `json:"min_gain"`
	MaxGain float64 `json:"max_gain"`
}

const slotsPerBand = 3

// Layout maps filter chains onto flat parameter vectors. Band i owns slots
// 3i (log10 frequency), 3i+1 (Q) and 3i+2 (gain in dB). Free bands add one
// type selector each after the 3n band slots, in band order.
type Layout struct {
	Topology   Topology
	NumFilters int
}

// NewLayout builds a layout
func NewLayout(t Topology, numFilters int) Layout {
	return Layout{Topology: t, NumFilters: numFilters}
}

func (l Layout) freeBands() int {
	n := 0
	for i := 0; i < l.NumFilters; i++ {
		if l.Topology.IsFree(i, l.NumFilters) {
			n++
		}
	}
	return n
}

// Dim returns the parameter vector length
func (l Layout) Dim() int {
	return slotsPerBand*l.NumFilters + l.freeBands()
}

// Bounds returns per-slot search bounds. Gain is pinned to zero for fixed
// highpass and lowpass bands.
func (l Layout) Bounds(lim Limits) [][2]float64 {
	b := make([][2]float64, l.Dim())
	sel := slotsPerBand * l.NumFilters
	for i := 0; i < l.NumFilters; i++ {
		k := slotsPerBand * i
		b[k] = [2]float64{math.Log10(lim.MinFreq), math.Log10(lim.MaxFreq)}
		b[k+1] = [2]float64{lim.MinQ, lim.MaxQ}
		b[k+2] = [2]float64{lim.MinGain, lim.MaxGain}

		if l.Topology.IsFree(i, l.NumFilters) {
			b[sel] = [2]float64{0, float64(len(filterTypeNames))}
			sel++
		} else if l.Topology.BandType(i, l.NumFilters) != Peak {
			b[k+2] = [2]float64{0, 0}
		}
	}
	return b
}

// Decode converts a parameter vector into filters in band order
func (l Layout) Decode(x []float64) []Filter {
	return l.DecodeInto(make([]Filter, l.NumFilters), x)
}

// DecodeInto is Decode writing into filters, which must hold NumFilters
// entries.
func (l Layout) DecodeInto(filters []Filter, x []float64) []Filter {
	sel := slotsPerBand * l.NumFilters
	for i := range filters {
		k := slotsPerBand * i
		typ := l.Topology.BandType(i, l.NumFilters)
		if l.Topology.IsFree(i, l.NumFilters) {
			typ = selectType(x[sel])
			sel++
		}
		f := Filter{Type: typ, Freq: math.Pow(10, x[k]), Q: x[k+1]}
		if typ == Peak {
			f.Gain = x[k+2]
		}
		filters[i] = f
	}
	return filters
}

// DecodeSorted decodes and orders filters by frequency for reporting
func (l Layout) DecodeSorted(x []float64) []Filter {
	filters := l.Decode(x)
	sort.SliceStable(filters, func(a, b int) bool { return filters[a].Freq < filters[b].Freq })
	return filters
}

// Encode is the inverse of Decode for filters given in band order. Free bands
// encode their type at the middle of its selector interval.
func (l Layout) Encode(filters []Filter) ([]float64, error) {
	if len(filters) != l.NumFilters {
		return nil, fmt.Errorf("layout has %d bands, got %d filters", l.NumFilters, len(filters))
	}
	x := make([]float64, l.Dim())
	sel := slotsPerBand * l.NumFilters
	for i, f := range filters {
		if !(f.Freq > 0) {
			return nil, fmt.Errorf("filter %d: frequency must be positive, got %v", i, f.Freq)
		}
		if l.Topology.IsFree(i, l.NumFilters) {
			x[sel] = float64(f.Type) + 0.5
			sel++
		} else if want := l.Topology.BandType(i, l.NumFilters); f.Type != want {
			return nil, fmt.Errorf("filter %d: %s model needs %s, got %s", i, l.Topology, want, f.Type)
		}
		k := slotsPerBand * i
		x[k] = math.Log10(f.Freq)
		x[k+1] = f.Q
		x[k+2] = f.Gain
	}
	return x, nil
}

// BandFreqs writes the centre frequency of every band into dst in band order
func (l Layout) BandFreqs(dst, x []float64) []float64 {
	for i := 0; i < l.NumFilters; i++ {
		dst[i] = math.Pow(10, x[slotsPerBand*i])
	}
	return dst
}

func selectType(v float64) FilterType {
	i := int(math.Floor(v))
	if i < 0 {
		i = 0
	}
	if i >= len(filterTypeNames) {
		i = len(filterTypeNames) - 1
	}
	return FilterType(i)
}
