package traces

import (
	"github.com/blagojts/viper"
	"github.com/pkg/errors"

	"github.com/scasim/tvla/internal/utils"
)

const (
	// FileSourceType reads traces from a text trace file.
	FileSourceType = "FILE"
	// SimulatorSourceType generates seeded synthetic traces.
	SimulatorSourceType = "SIMULATOR"
)

var validSourceTypes = []string{FileSourceType, SimulatorSourceType}

// FileSourceConfig locates a trace file on disk.
type FileSourceConfig struct {
	Location string `yaml:"location" mapstructure:"location"`
}

// Validate checks the file source configuration for usability.
func (f *FileSourceConfig) Validate() error {
	if f.Location == "" {
		return errors.New("location of file source config can't be empty or missing")
	}
	return nil
}

// SourceConfig selects and configures the trace source for a run.
type SourceConfig struct {
	Type      string            `yaml:"type" mapstructure:"type"`
	File      *FileSourceConfig `yaml:"file,omitempty" mapstructure:"file"`
	Simulator *SimulatorConfig  `yaml:"simulator,omitempty" mapstructure:"simulator"`
}

func validateSourceType(t string) error {
	if utils.IsIn(t, validSourceTypes) {
		return nil
	}
	return errors.Errorf("trace source type '%s' unrecognized; allowed: %v", t, validSourceTypes)
}

// ParseSourceConfig decodes a SourceConfig from a viper sub-tree.
func ParseSourceConfig(v *viper.Viper) (*SourceConfig, error) {
	var conf SourceConfig
	if err := v.UnmarshalExact(&conf); err != nil {
		return nil, err
	}
	if err := validateSourceType(conf.Type); err != nil {
		return nil, err
	}
	if conf.Type == FileSourceType && conf.File == nil {
		return nil, errors.Errorf("specified type %s, but no file source config provided", FileSourceType)
	}
	if conf.Type == SimulatorSourceType && conf.Simulator == nil {
		return nil, errors.Errorf("specified type %s, but no simulator source config provided", SimulatorSourceType)
	}
	return &conf, nil
}

// NewSource builds the Source described by the configuration.
func NewSource(conf *SourceConfig) (Source, error) {
	switch conf.Type {
	case FileSourceType:
		if err := conf.File.Validate(); err != nil {
			return nil, err
		}
		return NewFileSource(conf.File.Location)
	case SimulatorSourceType:
		return NewSimulatorSource(*conf.Simulator)
	}
	return nil, errors.Errorf("trace source type '%s' unrecognized", conf.Type)
}
