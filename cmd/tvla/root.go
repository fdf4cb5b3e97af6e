package main

import (
	"fmt"

	"github.com/blagojts/viper"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "tvla",
		Short: "Streaming leakage assessment over side-channel trace sets",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	ingestCmd, err := initIngestCMD()
	if err != nil {
		panic(err)
	}
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(initScoreCMD())
	rootCmd.AddCommand(initStatusCMD())
	rootCmd.AddCommand(initConfigCMD())
}

func initViperConfig(*cobra.Command, []string) {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search config in execution directory with name "config.yaml".
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
