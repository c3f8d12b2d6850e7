// Package cmd wires the medcoder CLI: process a case end to end, serve
// the HTTP API, or dump the model-call schemas.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"medcoder/cmd/server"
)

var (
	logFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "medcoder",
	Short: "Medical-coding workflow orchestrator",
	Long: `medcoder runs a clinical case through the coding pipeline: procedure
coding, diagnosis selection, compliance validation, coverage review,
modifier assignment, and value-unit calculation.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotEnv()
		viper.AutomaticEnv()
	},
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default logs/medcoder-<date>.log)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(server.NewServerCommand(&logFile, &logLevel, &logFormat))
	rootCmd.AddCommand(schemaGenCmd)
}

// loadDotEnv tries the usual .env locations and proceeds without one.
func loadDotEnv() {
	for _, candidate := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(candidate); err == nil {
			if err := godotenv.Load(candidate); err == nil {
				return
			}
		}
	}
}
