// Package cli builds the command-line driver for an integration. An
// integration wires its InvocationConfig into NewCommand and executes the
// returned root command from its main package:
//
//	func main() {
//		cmd := cli.NewCommand(invocationConfig)
//		if err := cmd.Execute(); err != nil {
//			os.Exit(1)
//		}
//	}
//
// The process exits zero only when the synchronization job finalizes.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JupiterOne/integration-sdk/config"
	"github.com/JupiterOne/integration-sdk/execution"
	"github.com/JupiterOne/integration-sdk/scheduler"
	"github.com/JupiterOne/integration-sdk/synchronization"
)

// Environment variables consumed by the run command.
const (
	EnvAPIKey     = "JUPITERONE_API_KEY"
	EnvAPIBaseURL = "JUPITERONE_API_BASE_URL"
	EnvDev        = "JUPITERONE_DEV"
)

// Base URLs selected by the JUPITERONE_DEV switch.
const (
	defaultBaseURL = "https://api.us.jupiterone.io"
	devBaseURL     = "https://api.dev.jupiterone.io"
)

// NewCommand builds the root command for an integration.
func NewCommand(invocation execution.InvocationConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "integration",
		Short:         "Run an integration and synchronize collected data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(invocation))
	return root
}

func newRunCommand(invocation execution.InvocationConfig) *cobra.Command {
	var (
		instanceID     string
		configPath     string
		cacheDirectory string
		concurrency    int
		validateSchema bool
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the integration against an instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			apiKey := os.Getenv(EnvAPIKey)
			if apiKey == "" {
				return fmt.Errorf("%s must be set", EnvAPIKey)
			}
			client, err := synchronization.NewClient(resolveBaseURL(), apiKey,
				synchronization.WithClientLogger(log))
			if err != nil {
				return err
			}

			values, err := config.LoadInstanceConfig(configPath, invocation.InstanceConfigFields)
			if err != nil {
				return err
			}
			log.Info("starting integration run",
				"instance", instanceID,
				"config", config.MaskedConfig(invocation.InstanceConfigFields, values))

			result, err := execution.Execute(cmd.Context(), invocation, execution.InvocationParams{
				Instance:               &scheduler.IntegrationInstance{ID: instanceID, Config: values},
				Client:                 client,
				CacheDirectory:         cacheDirectory,
				Concurrency:            concurrency,
				EnableSchemaValidation: validateSchema,
				Log:                    log,
			})
			if err != nil {
				return err
			}

			for _, stepResult := range result.IntegrationStepResults {
				log.Info("step result",
					"step", stepResult.ID,
					"status", string(stepResult.Status),
					"types", stepResult.Types)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&instanceID, "integrationInstanceId", "i", "", "integration instance to run (required)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to instance config YAML")
	cmd.Flags().StringVar(&cacheDirectory, "cache-dir", "", "graph store cache directory (default: fresh temp dir)")
	cmd.Flags().IntVar(&concurrency, "step-concurrency", 1, "maximum concurrently running steps")
	cmd.Flags().BoolVar(&validateSchema, "validate-schema", false, "validate produced graph objects against the envelope schemas")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	_ = cmd.MarkFlagRequired("integrationInstanceId")

	return cmd
}

// resolveBaseURL picks the API host, honoring the dev switch and an
// explicit override.
func resolveBaseURL() string {
	if override := os.Getenv(EnvAPIBaseURL); override != "" {
		return override
	}
	if dev := os.Getenv(EnvDev); dev == "1" || dev == "true" {
		return devBaseURL
	}
	return defaultBaseURL
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}
