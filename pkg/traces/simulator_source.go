package traces

import (
	"math/rand"

	"github.com/pkg/errors"
)

// ClassSpec describes the sampling distribution of one simulated
// class: every sample point is drawn i.i.d. Gaussian.
type ClassSpec struct {
	Label  string  `yaml:"label" mapstructure:"label"`
	Mean   float64 `yaml:"mean" mapstructure:"mean"`
	StdDev float64 `yaml:"stddev" mapstructure:"stddev"`
	Count  int     `yaml:"count" mapstructure:"count"`
}

// SimulatorConfig configures the synthetic trace source used for
// self-checks and calibration runs when no capture data is at hand.
type SimulatorConfig struct {
	Length  int         `yaml:"length" mapstructure:"length"`
	Seed    int64       `yaml:"seed" mapstructure:"seed"`
	Classes []ClassSpec `yaml:"classes" mapstructure:"classes"`
}

// Validate checks the simulator configuration for usability.
func (c *SimulatorConfig) Validate() error {
	if c.Length <= 0 {
		return errors.Errorf("simulator trace length must be positive, got %d", c.Length)
	}
	if len(c.Classes) == 0 {
		return errors.New("simulator needs at least one class")
	}
	for _, cl := range c.Classes {
		if cl.Label == "" {
			return errors.New("simulator class label can't be empty")
		}
		if cl.Count <= 0 {
			return errors.Errorf("class %s: trace count must be positive, got %d", cl.Label, cl.Count)
		}
		if cl.StdDev < 0 {
			return errors.Errorf("class %s: stddev can't be negative", cl.Label)
		}
	}
	return nil
}

// simulatorSource emits the configured classes' traces interleaved
// round-robin, so chunking downstream sees both classes early instead
// of one class followed by the other.
type simulatorSource struct {
	cfg  SimulatorConfig
	rng  *rand.Rand
	left []int
	next int
}

// NewSimulatorSource returns a Source of seeded Gaussian traces.
// Identical configuration yields an identical trace sequence.
func NewSimulatorSource(cfg SimulatorConfig) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	left := make([]int, len(cfg.Classes))
	for i, cl := range cfg.Classes {
		left[i] = cl.Count
	}
	return &simulatorSource{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		left: left,
	}, nil
}

func (s *simulatorSource) Next() *Trace {
	for range s.left {
		idx := s.next
		s.next = (s.next + 1) % len(s.left)
		if s.left[idx] == 0 {
			continue
		}
		s.left[idx]--
		cl := s.cfg.Classes[idx]
		samples := make([]float64, s.cfg.Length)
		for i := range samples {
			samples[i] = s.rng.NormFloat64()*cl.StdDev + cl.Mean
		}
		return &Trace{Class: cl.Label, Samples: samples}
	}
	return nil
}

func (s *simulatorSource) Err() error { return nil }
