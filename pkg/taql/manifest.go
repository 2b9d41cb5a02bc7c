package taql

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/laakhay/ta-go/pkg/taql/registry"
)

// Manifest is the machine-readable capability surface of a registry: which
// indicators exist and how to call them. Clients use it for discovery and
// client-side validation.
type Manifest struct {
	Indicators []IndicatorManifest `json:"indicators"`
}

type IndicatorManifest struct {
	Name            string           `json:"name"`
	Aliases         []string         `json:"aliases,omitempty"`
	Params          []ParamManifest  `json:"params,omitempty"`
	Outputs         []string         `json:"outputs,omitempty"`
	RequiredFields  []string         `json:"required_fields,omitempty"`
	DefaultLookback int              `json:"default_lookback,omitempty"`
	Incremental     bool             `json:"incremental"`
}

type ParamManifest struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Required bool   `json:"required"`
}

// BuildManifest snapshots a registry's catalog in name order.
func BuildManifest(reg *registry.Registry) Manifest {
	var m Manifest
	for _, name := range reg.Names() {
		ind, ok := reg.Get(name)
		if !ok {
			continue
		}
		entry := IndicatorManifest{
			Name:            ind.Schema.Name,
			Aliases:         ind.Schema.Aliases,
			Outputs:         ind.Schema.Outputs,
			RequiredFields:  ind.Schema.Semantics.RequiredFields,
			DefaultLookback: ind.Schema.Semantics.DefaultLookback,
			Incremental:     ind.Step != nil,
		}
		for _, p := range ind.Schema.Params {
			entry.Params = append(entry.Params, ParamManifest{
				Name:     p.Name,
				Kind:     string(p.Kind),
				Required: p.Required,
			})
		}
		m.Indicators = append(m.Indicators, entry)
	}
	return m
}

// EncodeJSON renders the manifest.
func (m Manifest) EncodeJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(m)
}
