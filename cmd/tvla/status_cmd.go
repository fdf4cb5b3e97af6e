package main

import (
	"context"
	"fmt"
	"log"

	"github.com/blagojts/viper"
	"github.com/spf13/cobra"

	"github.com/scasim/tvla/pkg/store"
)

func initStatusCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "status",
		Short:            "Report per-class chunk and cache accounting of a state store",
		PersistentPreRun: initViperConfig,
		Run:              runStatus,
	}
	cmd.PersistentFlags().String("db-path", "tvla.db", "Path of the sqlite state store")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) {
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		panic(fmt.Errorf("could not bind status flags: %v", err))
	}
	dbPath := viper.GetString("db-path")

	ctx := context.Background()
	st := store.Open(dbPath)
	if err := st.Init(ctx); err != nil {
		log.Fatalf("could not open state store %s: %v", dbPath, err)
	}
	defer st.Close()

	classes, err := st.Classes(ctx)
	if err != nil {
		log.Fatalf("could not list classes: %v", err)
	}
	if len(classes) == 0 {
		fmt.Printf("%s: empty state store\n", dbPath)
		return
	}

	fmt.Printf("%s:\n", dbPath)
	for _, class := range classes {
		chunks, traceCount, err := st.ChunkCount(ctx, class)
		if err != nil {
			log.Fatalf("could not count chunks for class %s: %v", class, err)
		}
		_, cachedTraces, ok, err := st.CachedState(ctx, class)
		if err != nil {
			log.Fatalf("could not read cached state for class %s: %v", class, err)
		}
		cache := "no merged cache"
		if ok {
			if cachedTraces == traceCount {
				cache = "merged cache up to date"
			} else {
				cache = fmt.Sprintf("merged cache behind (%d of %d traces folded)", cachedTraces, traceCount)
			}
		}
		fmt.Printf("  class %s: %d chunks, %d traces, %s\n", class, chunks, traceCount, cache)
	}
}
