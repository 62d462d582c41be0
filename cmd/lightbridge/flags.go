package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jpalmerr/lightbridge/config"
	"github.com/spf13/cobra"
)

// addConfigFlags registers the flags shared by serve and validate.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to YAML config file (optional, defaults apply)")
	cmd.Flags().String("env-file", ".env", "dotenv file loaded before the config is parsed (ignored if missing)")
	cmd.Flags().String("listen", config.DefaultListen, "address to bind the web server to")
	cmd.Flags().BoolP("verbose", "v", false, "enable debug logging in the bridge and the engine")
	cmd.Flags().String("engine-config", config.DefaultEngineConfig, "configuration file passed to the engine")
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// resolveConfig loads the config file, if any, and applies flag overrides.
// Flags only override the file when set explicitly.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := config.Default()
	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("engine-config") {
		cfg.Engine.Config, _ = cmd.Flags().GetString("engine-config")
	}

	return cfg, nil
}
