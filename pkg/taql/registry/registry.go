// Package registry holds the indicator catalog the compiler and both
// execution backends consult. A Registry is built once through a Builder at
// process start and is read-only afterwards; it is passed by reference into
// every component that needs it.
package registry

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/laakhay/ta-go/pkg/series"
)

// ParamKind is the static type of an indicator parameter.
type ParamKind string

const (
	ParamInt    ParamKind = "int"
	ParamFloat  ParamKind = "float"
	ParamString ParamKind = "string"
	ParamBool   ParamKind = "bool"
	ParamSeries ParamKind = "series"
)

// Value is a resolved scalar parameter value.
type Value struct {
	Kind ParamKind
	Num  float64
	Str  string
	Bool bool
}

func NumValue(v float64) Value  { return Value{Kind: ParamFloat, Num: v} }
func StrValue(v string) Value   { return Value{Kind: ParamString, Str: v} }
func BoolValue(v bool) Value    { return Value{Kind: ParamBool, Bool: v} }

// ParamSpec declares one parameter of an indicator schema. Parameters are
// ordered; positional arguments map onto them in declaration order.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	Default  *Value
}

// Semantics declares the data and lookback requirements of an indicator.
type Semantics struct {
	// RequiredFields are the raw fields consumed when no explicit input
	// expression is supplied, attributed to the generic ohlcv source.
	RequiredFields []string
	// LookbackParams name the parameters whose literal values widen the
	// window; the largest wins.
	LookbackParams []string
	// DefaultLookback applies when no lookback parameter is bound.
	DefaultLookback int
	// InputSeriesParam optionally names the parameter carrying the primary
	// input series; empty means the implicit first expression argument.
	InputSeriesParam string
}

// ComputeInput carries everything a batch kernel needs for one partition.
type ComputeInput struct {
	// Fields maps raw field names to the partition's series.
	Fields map[string]series.Series
	// Inputs are the evaluated series arguments, primary input first.
	Inputs []series.Series
	// Params are the resolved scalar parameters by name.
	Params map[string]Value
	// Output selects a named output line of a multi-output indicator.
	Output string
}

// BatchKernel computes a whole output series in one vectorized pass.
type BatchKernel interface {
	Compute(in ComputeInput) (series.Series, error)
}

// State is the opaque per-node algorithm state owned by a step kernel.
// Clone must return a deep copy; snapshotting relies on it.
type State interface {
	Clone() State
}

// StepInput is one tick presented to a step kernel.
type StepInput struct {
	// Primary is the kernel's main input value for this tick.
	Primary float64
	// Fields exposes the full tick for kernels needing several raw fields.
	Fields map[string]float64
}

// StepOutput is a step kernel's result for one tick. Ready is false while
// the kernel is still warming up.
type StepOutput struct {
	Value float64
	Ready bool
}

// StepKernel advances an indicator one tick at a time with persistent state.
type StepKernel interface {
	NewState(params map[string]Value) (State, error)
	Step(st State, in StepInput) (StepOutput, error)
}

// Schema is the static surface of one indicator.
type Schema struct {
	Name      string
	Params    []ParamSpec
	Outputs   []string
	Semantics Semantics
	Aliases   []string
}

// Param looks up a declared parameter by name.
func (s Schema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Indicator couples a schema with its kernels.
type Indicator struct {
	Schema Schema
	Batch  BatchKernel
	Step   StepKernel
}

// Registry is the immutable indicator catalog.
type Registry struct {
	byName map[string]*Indicator
}

// Get resolves an indicator by canonical name or alias.
func (r *Registry) Get(name string) (*Indicator, bool) {
	ind, ok := r.byName[name]
	return ind, ok
}

// Names returns the sorted canonical indicator names.
func (r *Registry) Names() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, ind := range r.byName {
		if _, ok := seen[ind.Schema.Name]; ok {
			continue
		}
		seen[ind.Schema.Name] = struct{}{}
		names = append(names, ind.Schema.Name)
	}
	sort.Strings(names)
	return names
}

// Builder accumulates registrations and freezes them into a Registry.
type Builder struct {
	byName map[string]*Indicator
	err    error
}

func NewBuilder() *Builder {
	return &Builder{byName: map[string]*Indicator{}}
}

// Register adds an indicator under its canonical name and aliases. The first
// registration error is kept and reported by Build.
func (b *Builder) Register(ind Indicator) *Builder {
	if b.err != nil {
		return b
	}
	if ind.Schema.Name == "" {
		b.err = errors.New("indicator schema requires a name")
		return b
	}
	names := append([]string{ind.Schema.Name}, ind.Schema.Aliases...)
	entry := ind
	for _, name := range names {
		if _, exists := b.byName[name]; exists {
			b.err = errors.Errorf("indicator %q registered twice", name)
			return b
		}
		b.byName[name] = &entry
	}
	return b
}

// Build freezes the builder into a read-only registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	byName := make(map[string]*Indicator, len(b.byName))
	for k, v := range b.byName {
		byName[k] = v
	}
	return &Registry{byName: byName}, nil
}
