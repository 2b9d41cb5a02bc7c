// Package dataset provides the raw market data surface the evaluators read
// from. A Dataset hands out immutable field series per partition; the
// in-memory implementation backs tests and embedded use.
package dataset

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
)

// Partition identifies one stream of market data.
type Partition struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
	Source    string `yaml:"source"`
}

// Dataset is the read surface consumed by the batch evaluator.
type Dataset interface {
	// Fields returns the raw field series of a partition, or false when the
	// partition is unknown.
	Fields(p Partition) (map[string]series.Series, bool)
	// Partitions lists the known partitions in deterministic order.
	Partitions() []Partition
}

// InMemory is a concurrency-safe Dataset held entirely in memory.
type InMemory struct {
	mu    sync.RWMutex
	parts map[Partition]map[string]series.Series
}

func NewInMemory() *InMemory {
	return &InMemory{parts: map[Partition]map[string]series.Series{}}
}

// Add registers one field series under a partition. The series' own symbol
// and timeframe must agree with the partition.
func (d *InMemory) Add(p Partition, field string, s series.Series) error {
	if s.Symbol != "" && s.Symbol != p.Symbol {
		return errors.Errorf("series symbol %q does not match partition symbol %q", s.Symbol, p.Symbol)
	}
	if s.Timeframe != "" && s.Timeframe != p.Timeframe {
		return errors.Errorf("series timeframe %q does not match partition timeframe %q", s.Timeframe, p.Timeframe)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fields, ok := d.parts[p]
	if !ok {
		fields = map[string]series.Series{}
		d.parts[p] = fields
	}
	fields[field] = s
	return nil
}

func (d *InMemory) Fields(p Partition) (map[string]series.Series, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fields, ok := d.parts[p]
	if !ok {
		return nil, false
	}
	out := make(map[string]series.Series, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, true
}

func (d *InMemory) Partitions() []Partition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Partition, 0, len(d.parts))
	for p := range d.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Timeframe != out[j].Timeframe {
			return out[i].Timeframe < out[j].Timeframe
		}
		return out[i].Source < out[j].Source
	})
	return out
}
