package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/simplui/simplui/internal/comfy"
	"github.com/simplui/simplui/internal/config"
	"github.com/simplui/simplui/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const envConfig = "SIMPLUI_CONFIG"

var (
	configPath string
	logLevel   string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "simplui <command>",
	Short:         "Batch image generation front end for a ComfyUI engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.FromEnv()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		logger, err = logging.New(level, logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(envConfig), "config file (.yaml, .toml or .json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Generation:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// newComfyClient builds the engine client from the loaded config.
func newComfyClient() (*comfy.Client, error) {
	return comfy.NewClient(cfg.ComfyURL,
		comfy.WithLogger(logger),
		comfy.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
