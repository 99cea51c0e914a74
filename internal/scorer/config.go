package scorer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Penalties holds the score deduction per discrepancy class.
type Penalties struct {
	RegistryNotFound float64 `yaml:"registry_not_found"`
	Name             float64 `yaml:"name"`
	SpecialtyTotal   float64 `yaml:"specialty_total"`
	SpecialtyPartial float64 `yaml:"specialty_partial"`
	Address          float64 `yaml:"address"`
	License          float64 `yaml:"license"`
}

// DefaultPenalties returns the standard penalty weights.
func DefaultPenalties() Penalties {
	return Penalties{
		RegistryNotFound: 100,
		Name:             20,
		SpecialtyTotal:   10,
		SpecialtyPartial: 5,
		Address:          5,
		License:          15,
	}
}

// LoadPenalties reads penalty overrides from a YAML file. Fields left zero
// in the file keep their default value. An empty path returns the defaults.
func LoadPenalties(path string) (Penalties, error) {
	p := DefaultPenalties()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrap(err, "scorer: read penalty file")
	}

	var overrides Penalties
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return p, eris.Wrap(err, "scorer: parse penalty file")
	}

	if overrides.RegistryNotFound > 0 {
		p.RegistryNotFound = overrides.RegistryNotFound
	}
	if overrides.Name > 0 {
		p.Name = overrides.Name
	}
	if overrides.SpecialtyTotal > 0 {
		p.SpecialtyTotal = overrides.SpecialtyTotal
	}
	if overrides.SpecialtyPartial > 0 {
		p.SpecialtyPartial = overrides.SpecialtyPartial
	}
	if overrides.Address > 0 {
		p.Address = overrides.Address
	}
	if overrides.License > 0 {
		p.License = overrides.License
	}

	return p, nil
}
