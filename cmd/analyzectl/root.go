package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/designanalyzer/api/internal/logging"
	"github.com/designanalyzer/api/pkg/apiclient"
)

var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:          "analyzectl",
	Short:        "Submit and follow design analysis jobs",
	SilenceUsage: true,
}

func init() {
	_ = godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8000", "Analyzer API base URL")
	flags.Duration("timeout", 30*time.Second, "Per-request timeout")
	flags.Int("retries", 3, "Retries for failed requests")
	flags.Bool("verbose", false, "Log HTTP retries")

	_ = settings.BindPFlags(flags)
	_ = settings.BindEnv("server", "ANALYZER_URL")
	_ = settings.BindEnv("timeout", "ANALYZER_TIMEOUT")
	_ = settings.BindEnv("retries", "ANALYZER_RETRIES")
}

// newClient builds the API client from flags and environment
func newClient() *apiclient.Client {
	level := "warn"
	if settings.GetBool("verbose") {
		level = "debug"
	}
	logger := logging.New(level, "console", os.Stderr)

	return apiclient.New(apiclient.Config{
		BaseURL:  settings.GetString("server"),
		Timeout:  settings.GetDuration("timeout"),
		RetryMax: settings.GetInt("retries"),
		Logger:   logging.NewLeveledLogger(logger),
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
