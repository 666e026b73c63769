// Package profile accumulates a bounded statistical sketch of a streamed
// result set. Memory stays constant no matter how many rows pass through:
// numeric columns keep four scalars and categorical columns keep at most a
// fixed number of distinct values, evicting the least frequent when full.
package profile

import (
	"fmt"
	"sort"
)

const DefaultCategoryCap = 200

type NumericStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type categoryStats struct {
	counts map[string]int64
}

// Profile observes rows column by column. It is not safe for concurrent use;
// each query stream owns its profile.
type Profile struct {
	cap     int
	rows    int64
	numeric map[string]*NumericStats
	categor map[string]*categoryStats
}

func New(categoryCap int) *Profile {
	if categoryCap <= 0 {
		categoryCap = DefaultCategoryCap
	}
	return &Profile{
		cap:     categoryCap,
		numeric: make(map[string]*NumericStats),
		categor: make(map[string]*categoryStats),
	}
}

// Observe folds one row into the profile. Numeric values update running
// aggregates; everything else is counted as a category. Nil values are
// skipped so sparse columns do not skew the sketch.
func (p *Profile) Observe(row map[string]any) {
	p.rows++
	for col, val := range row {
		if val == nil {
			continue
		}
		if f, ok := asFloat(val); ok {
			p.observeNumeric(col, f)
			continue
		}
		p.observeCategory(col, asString(val))
	}
}

func (p *Profile) observeNumeric(col string, v float64) {
	stats, ok := p.numeric[col]
	if !ok {
		p.numeric[col] = &NumericStats{Count: 1, Sum: v, Min: v, Max: v}
		return
	}
	stats.Count++
	stats.Sum += v
	if v < stats.Min {
		stats.Min = v
	}
	if v > stats.Max {
		stats.Max = v
	}
}

func (p *Profile) observeCategory(col, v string) {
	stats, ok := p.categor[col]
	if !ok {
		stats = &categoryStats{counts: make(map[string]int64)}
		p.categor[col] = stats
	}
	if _, seen := stats.counts[v]; !seen && len(stats.counts) >= p.cap {
		evictLeastFrequent(stats.counts, p.cap/10)
	}
	stats.counts[v]++
}

// evictLeastFrequent drops at least one entry, and roughly a tenth of the
// table, so a single hot new value cannot thrash the cap.
func evictLeastFrequent(counts map[string]int64, n int) {
	if n < 1 {
		n = 1
	}
	type entry struct {
		value string
		count int64
	}
	entries := make([]entry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, entry{v, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count < entries[j].count
		}
		return entries[i].value < entries[j].value
	})
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(counts, e.value)
	}
}

type TopValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type CategoricalSummary struct {
	Column   string     `json:"column"`
	Distinct int        `json:"distinct"`
	Top      []TopValue `json:"top"`
}

type NumericSummary struct {
	Column string       `json:"column"`
	Stats  NumericStats `json:"stats"`
}

type Summary struct {
	Rows        int64                `json:"rows"`
	Numeric     []NumericSummary     `json:"numeric,omitempty"`
	Categorical []CategoricalSummary `json:"categorical,omitempty"`
}

// Summarize snapshots the profile, listing columns alphabetically and each
// categorical column's topK most frequent observed values.
func (p *Profile) Summarize(topK int) Summary {
	if topK <= 0 {
		topK = 5
	}
	summary := Summary{Rows: p.rows}

	numericCols := make([]string, 0, len(p.numeric))
	for col := range p.numeric {
		numericCols = append(numericCols, col)
	}
	sort.Strings(numericCols)
	for _, col := range numericCols {
		summary.Numeric = append(summary.Numeric, NumericSummary{Column: col, Stats: *p.numeric[col]})
	}

	categorCols := make([]string, 0, len(p.categor))
	for col := range p.categor {
		categorCols = append(categorCols, col)
	}
	sort.Strings(categorCols)
	for _, col := range categorCols {
		counts := p.categor[col].counts
		top := make([]TopValue, 0, len(counts))
		for v, c := range counts {
			top = append(top, TopValue{Value: v, Count: c})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].Count != top[j].Count {
				return top[i].Count > top[j].Count
			}
			return top[i].Value < top[j].Value
		})
		if len(top) > topK {
			top = top[:topK]
		}
		summary.Categorical = append(summary.Categorical, CategoricalSummary{
			Column:   col,
			Distinct: len(counts),
			Top:      top,
		})
	}
	return summary
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", s)
	}
}
