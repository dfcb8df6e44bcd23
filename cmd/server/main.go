package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/config/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reunite",
	Short: "Matches missing-child reports against found-child photos",
	Long: `Reunite stores photos of missing children and compares photos of found
children against them using face embeddings. A match links both reports
so guardians and finders can be put in touch.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML configuration file")
}

func initEnv() {
	// .env ist optional
	_ = godotenv.Load()
}
