package taql

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// LoadEngineOpts reads engine options from a YAML file, layered over the
// defaults. Unknown keys are rejected.
func LoadEngineOpts(path string) (EngineOpts, error) {
	opts := DefaultEngineOpts()
	buf, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrap(err, "reading engine config")
	}
	if err := yaml.UnmarshalStrict(buf, &opts); err != nil {
		return opts, errors.Wrap(err, "parsing engine config")
	}
	return opts, nil
}
