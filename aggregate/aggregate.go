// Package aggregate reduces the fields of many mmstats files into
// per-label summary statistics.
package aggregate

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/schmichael/mmstats/reader"
)

// DefaultPercentiles are the quantiles every Summary carries.
var DefaultPercentiles = []float64{0.75, 0.95, 0.98, 0.99, 0.999}

// A Summary describes every value observed under one label.
type Summary struct {
	Values []float64
	Count  int
	Min    float64
	Max    float64
	Sum    float64
	Mean   float64

	// Median is the upper middle element of the sorted values.
	Median float64

	Percentiles map[float64]float64
}

// A Collector groups values by label across any number of reader streams.
// Add and AddStats may be called concurrently.
type Collector struct {
	mu     sync.Mutex
	groups map[string][]float64
}

func New() *Collector {
	return &Collector{groups: make(map[string][]float64)}
}

// Add appends one value to label's group.
func (c *Collector) Add(label string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[label] = append(c.groups[label], v)
}

// AddStats folds a decoded field list into the collector. Fields without a
// numeric interpretation (strings) are skipped.
func (c *Collector) AddStats(stats []reader.Stat) {
	for _, st := range stats {
		if v, ok := Numeric(st.Value); ok {
			c.Add(st.Label, v)
		}
	}
}

// Summaries computes the per-label statistics for everything collected so
// far.
func (c *Collector) Summaries() map[string]*Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Summary, len(c.groups))
	for label, values := range c.groups {
		out[label] = summarize(values)
	}
	return out
}

func summarize(values []float64) *Summary {
	s := &Summary{
		Values:      values,
		Count:       len(values),
		Percentiles: make(map[float64]float64, len(DefaultPercentiles)),
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) > 0 {
		s.Min = floats.Min(sorted)
		s.Max = floats.Max(sorted)
		s.Sum = floats.Sum(sorted)
		s.Mean = stat.Mean(sorted, nil)
		s.Median = sorted[len(sorted)/2]
	}
	for _, p := range DefaultPercentiles {
		s.Percentiles[p] = Percentile(sorted, p)
	}
	return s
}

// Percentile computes the p-th percentile of sorted values: the position
// p·(n+1) is clamped to [1, n] and the two neighboring elements are
// blended linearly by its fractional part. p ≤ 0 yields the first element,
// p ≥ 1 the last, an empty input 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	pos := p * float64(n+1)
	if pos < 1 {
		pos = 1
	}
	if pos > float64(n) {
		pos = float64(n)
	}
	lower := int(pos)
	frac := pos - float64(lower)
	if lower >= n {
		return sorted[n-1]
	}
	return sorted[lower-1] + frac*(sorted[lower]-sorted[lower-1])
}

// Numeric converts a decoded field value to float64. Booleans project to
// 0/1; strings report false.
func Numeric(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int8:
		return float64(v), true
	case uint8:
		return float64(v), true
	case int16:
		return float64(v), true
	case uint16:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Files maps every path read-only, decodes it and returns the per-label
// summaries. Files that cannot be opened or parsed are skipped: consumers
// aggregate whatever producers are still alive.
func Files(paths []string) (map[string]*Summary, error) {
	c := New()
	var eg errgroup.Group
	for _, path := range paths {
		path := path // copy
		eg.Go(func() error {
			r, err := reader.FromMmap(path)
			if err != nil {
				return nil
			}
			defer r.Close()
			stats, _ := r.ReadAll()
			c.AddStats(stats)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return c.Summaries(), nil
}
