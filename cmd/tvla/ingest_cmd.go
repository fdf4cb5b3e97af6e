package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/blagojts/viper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scasim/tvla/load"
	"github.com/scasim/tvla/pkg/store"
	"github.com/scasim/tvla/pkg/traces"
)

func initIngestCMD() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:              "ingest",
		Short:            "Accumulate traces from a source into the state store",
		PersistentPreRun: initViperConfig,
		Run:              runIngest,
	}
	cmd.PersistentFlags().AddFlagSet(ingestCmdFlags())
	return cmd, nil
}

func ingestCmdFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("", pflag.ContinueOnError)
	load.RunnerConfig{}.AddToFlagSet(fs)
	fs.String("write-profile", "", "File to output CPU/memory profile of the ingest process to")
	addTraceSourceFlags(fs)
	return fs
}

func addTraceSourceFlags(fs *pflag.FlagSet) {
	fs.String(
		"data-source.type",
		traces.FileSourceType,
		"Where to read the traces from. Valid: "+strings.Join([]string{traces.FileSourceType, traces.SimulatorSourceType}, ", "),
	)
	fs.String(
		"data-source.file.location",
		"./traces.csv",
		"If data-source.type=FILE, read the traces from this file location",
	)
	fs.Int("data-source.simulator.length", 0, "Samples per simulated trace")
	fs.Int64("data-source.simulator.seed", 0, "PRNG seed for the simulator")
}

func runIngest(cmd *cobra.Command, _ []string) {
	// bind only the flags of the executed sub-command so viper does
	// not see same-named flags of the other sub-commands
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(fmt.Errorf("could not bind ingest flags: %v", err))
	}
	v := viper.GetViper()

	var conf load.RunnerConfig
	if err := v.Unmarshal(&conf); err != nil {
		panic(fmt.Errorf("unable to decode ingest config: %v", err))
	}

	srcViper := v.Sub("data-source")
	if srcViper == nil {
		panic(fmt.Errorf("config didn't have a top-level 'data-source' object"))
	}
	srcConf, err := traces.ParseSourceConfig(srcViper)
	if err != nil {
		panic(err)
	}
	src, err := traces.NewSource(srcConf)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	st := store.Open(conf.DBPath)
	if err := st.Init(ctx); err != nil {
		log.Fatalf("could not open state store %s: %v", conf.DBPath, err)
	}
	defer st.Close()

	if profileFile := v.GetString("write-profile"); profileFile != "" {
		go profileCPUAndMem(profileFile)
	}

	runner := load.GetRunner(conf)
	summary, err := runner.Run(ctx, src, st)
	if err != nil {
		log.Fatalf("ingest failed: %v", err)
	}
	runner.PrintSummary(summary)
}
