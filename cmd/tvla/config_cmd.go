package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/blagojts/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/scasim/tvla/pkg/traces"
)

const (
	traceSourceFlag = "data-source"

	writeConfigTo = "./config.yaml"
)

func initConfigCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate example config yaml file and save it to " + writeConfigTo,
		Run:   config,
	}
	cmd.PersistentFlags().String(
		traceSourceFlag,
		traces.SimulatorSourceType,
		"specify trace source, valid: "+strings.Join([]string{traces.FileSourceType, traces.SimulatorSourceType}, ", "),
	)
	return cmd
}

func config(cmd *cobra.Command, _ []string) {
	sourceSelected, err := cmd.PersistentFlags().GetString(traceSourceFlag)
	if err != nil {
		panic(fmt.Sprintf("could not read value for %s flag: %v", traceSourceFlag, err))
	}

	v := setExampleConfigInViper(exampleSourceConfig(sourceSelected))
	if err := v.WriteConfigAs(writeConfigTo); err != nil {
		panic(fmt.Errorf("could not write sample config to file %s: %v", writeConfigTo, err))
	}
	fmt.Printf("Wrote example config to: %s\n", writeConfigTo)
}

func exampleSourceConfig(sourceType string) *traces.SourceConfig {
	switch sourceType {
	case traces.FileSourceType:
		return &traces.SourceConfig{
			Type: traces.FileSourceType,
			File: &traces.FileSourceConfig{Location: "./traces.csv"},
		}
	case traces.SimulatorSourceType:
		return &traces.SourceConfig{
			Type: traces.SimulatorSourceType,
			Simulator: &traces.SimulatorConfig{
				Length: 64,
				Seed:   1,
				Classes: []traces.ClassSpec{
					{Label: traces.ClassFixed, Mean: 0, StdDev: 1, Count: 1000},
					{Label: traces.ClassRandom, Mean: 0.1, StdDev: 1, Count: 1000},
				},
			},
		}
	default:
		panic("unsupported trace source type: " + sourceType)
	}
}

func setExampleConfigInViper(srcConf *traces.SourceConfig) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// convert the source config to yaml to load into viper
	configInBytes, err := yaml.Marshal(map[string]interface{}{"data-source": srcConf})
	if err != nil {
		panic(fmt.Errorf("could not convert example config to yaml: %v", err))
	}
	if err := v.ReadConfig(bytes.NewBuffer(configInBytes)); err != nil {
		panic(fmt.Errorf("could not load example config in viper: %v", err))
	}

	// bind the ingest runner flags so their defaults end up in the file,
	// minus the source flags already covered by the example source config
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)
	ingestCmdFlags().VisitAll(func(f *pflag.Flag) {
		if !strings.HasPrefix(f.Name, "data-source.") {
			fs.AddFlag(f)
		}
	})
	if err := v.BindPFlags(fs); err != nil {
		panic(fmt.Errorf("could not bind ingest runner flags in viper: %v", err))
	}

	return v
}
