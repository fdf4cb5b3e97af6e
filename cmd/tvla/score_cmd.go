package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/blagojts/viper"
	"github.com/spf13/cobra"

	"github.com/scasim/tvla/pkg/scoring"
	"github.com/scasim/tvla/pkg/store"
	"github.com/scasim/tvla/pkg/traces"
)

func initScoreCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "score",
		Short:            "Score a pair of accumulated classes with Welch's t-test",
		PersistentPreRun: initViperConfig,
		Run:              runScore,
	}
	cmd.PersistentFlags().String("db-path", "tvla.db", "Path of the sqlite state store")
	cmd.PersistentFlags().String("class-a", traces.ClassFixed, "First class of the pair to score")
	cmd.PersistentFlags().String("class-b", traces.ClassRandom, "Second class of the pair to score")
	cmd.PersistentFlags().Float64("threshold", scoring.DefaultThreshold, "Absolute t-statistic above which an index counts as leaking")
	cmd.PersistentFlags().String("export", "", "Write the full per-index t-statistics to this csv file")
	return cmd
}

func runScore(cmd *cobra.Command, _ []string) {
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(fmt.Errorf("could not bind score flags: %v", err))
	}
	v := viper.GetViper()
	dbPath := v.GetString("db-path")
	classA := v.GetString("class-a")
	classB := v.GetString("class-b")
	threshold := v.GetFloat64("threshold")
	exportFile := v.GetString("export")

	ctx := context.Background()
	st := store.Open(dbPath)
	if err := st.Init(ctx); err != nil {
		log.Fatalf("could not open state store %s: %v", dbPath, err)
	}
	defer st.Close()

	a, err := st.LoadMerged(ctx, classA)
	if err != nil {
		log.Fatalf("could not load merged state for class %s: %v", classA, err)
	}
	b, err := st.LoadMerged(ctx, classB)
	if err != nil {
		log.Fatalf("could not load merged state for class %s: %v", classB, err)
	}

	rows, err := scoring.Score(a, b)
	if err != nil {
		log.Fatalf("could not score %s against %s: %v", classA, classB, err)
	}

	leaking := false
	for _, row := range rows {
		max, at := scoring.MaxAbs(row)
		exceeding := scoring.Exceeds(row, threshold)
		verdict := "pass"
		if len(exceeding) > 0 {
			verdict = "LEAK"
			leaking = true
		}
		fmt.Printf(
			"order %d: max |t| = %.3f at sample %d, %d/%d samples above %.2f: %s\n",
			row.Order, max, at, len(exceeding), len(row.T), threshold, verdict,
		)
	}

	if exportFile != "" {
		f, err := os.Create(exportFile)
		if err != nil {
			log.Fatalf("could not create export file %s: %v", exportFile, err)
		}
		defer f.Close()
		if err := scoring.WriteCSV(f, rows); err != nil {
			log.Fatalf("could not export t-statistics: %v", err)
		}
		fmt.Printf("Wrote per-index t-statistics to: %s\n", exportFile)
	}

	if leaking {
		os.Exit(1)
	}
}
