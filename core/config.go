package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/CoryVegan/pssetools/powerflow"
)

// ErrConfigInvalid marks a headroom configuration that failed decoding or
// validation.
var ErrConfigInvalid = errors.New("invalid headroom config")

// HeadroomConfig carries every knob of a capacity run. The zero value is
// not usable directly: call ApplyDefaults (and Validate) first, or go
// through LoadConfig which does both.
type HeadroomConfig struct {
	CaseFile         string  `json:"case_file" validate:"required"`
	UpperLoadLimitMW float64 `json:"upper_load_limit_mw" validate:"gt=0"`
	UpperGenLimitMW  float64 `json:"upper_gen_limit_mw" validate:"gt=0"`
	LoadPowerFactor  float64 `json:"load_power_factor" validate:"gt=0,lte=1"`
	GenPowerFactor   float64 `json:"gen_power_factor" validate:"gt=0,lte=1"`
	SelectedBuses    []int   `json:"selected_buses,omitempty"`
	ToleranceMW      float64 `json:"tolerance_mw" validate:"gt=0"`
	MaxIterations    int     `json:"max_iterations" validate:"gte=1"`

	SolverOptions     powerflow.Options `json:"solver_options"`
	NormalLimits      ViolationsLimits  `json:"normal_limits"`
	ContingencyLimits ViolationsLimits  `json:"contingency_limits"`

	// ContingencyScenario, when non-nil, is used as-is and the screening
	// pass is skipped.
	ContingencyScenario *ContingencyScenario `json:"-"`
}

// ApplyDefaults fills unset optional fields. CaseFile and the two upper
// limits have no defaults; they stay as given and Validate rejects them
// when missing.
func (c *HeadroomConfig) ApplyDefaults() {
	if c.LoadPowerFactor == 0 {
		c.LoadPowerFactor = 0.9
	}
	if c.GenPowerFactor == 0 {
		c.GenPowerFactor = 0.9
	}
	if c.ToleranceMW == 0 {
		c.ToleranceMW = 5.0
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.SolverOptions == (powerflow.Options{}) {
		c.SolverOptions = powerflow.DefaultOptions()
	}
	if c.NormalLimits == (ViolationsLimits{}) {
		c.NormalLimits = NormalLimits()
	}
	if c.ContingencyLimits == (ViolationsLimits{}) {
		c.ContingencyLimits = ContingencyLimits()
	}
}

// Validate checks the config against its struct tags.
func (c *HeadroomConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	return nil
}

// LoadConfig reads a JSON headroom config from r. Unknown fields are
// rejected so a typo in a config file fails loudly instead of silently
// running with a default.
func LoadConfig(r io.Reader) (HeadroomConfig, error) {
	var cfg HeadroomConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return HeadroomConfig{}, fmt.Errorf("%w: decode: %w", ErrConfigInvalid, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return HeadroomConfig{}, err
	}
	return cfg, nil
}
