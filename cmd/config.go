/*
Copyright © 2025 CODA Project

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/logging"
)

var (
	outputFormat string
	showSecrets  bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatpipe configuration",
	Long:  `View, initialize and validate chatpipe configuration settings.`,
}

// showCmd shows the current configuration
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration after file, environment and flag
overrides.

API keys are masked. Use --show-secrets to display them (use with caution).`,
	RunE: runConfigShow,
}

// initCmd initializes a new configuration file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new configuration file",
	Long: `Write the sample configuration to ~/.config/chatpipe/config.yaml, or to the
location given by --config.`,
	RunE: runConfigInit,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.NewLoader().GetConfigPath(cfgFile))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(validateCmd)
	configCmd.AddCommand(pathCmd)

	showCmd.Flags().StringVarP(&outputFormat, "output", "o", "yaml", "output format (yaml, json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show sensitive information (use with caution)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	displayCfg := GetConfig()
	if !showSecrets {
		displayCfg = maskSensitiveConfig(displayCfg)
	}
	return writeConfig(cmd.OutOrStdout(), displayCfg, outputFormat)
}

func writeConfig(w io.Writer, c *config.Config, format string) error {
	var output []byte
	var err error

	switch strings.ToLower(format) {
	case "json":
		output, err = json.MarshalIndent(c, "", "  ")
	case "yaml", "yml":
		output, err = yaml.Marshal(c)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	_, err = fmt.Fprintln(w, strings.TrimRight(string(output), "\n"))
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := config.NewLoader().GetConfigPath(cfgFile)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(config.SampleConfig()), 0600); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	ShowInfo("Configuration initialized at %s", configPath)
	ShowInfo("Set OPENAI_API_KEY (or ai.api_key) before starting a chat.")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if err := GetConfig().Validate(); err != nil {
		ShowError("Configuration validation failed:")
		ShowError("  %v", err)
		return fmt.Errorf("configuration is invalid")
	}
	ShowInfo("Configuration is valid")
	return nil
}

// maskSensitiveConfig returns a copy safe to print
func maskSensitiveConfig(c *config.Config) *config.Config {
	masked := *c
	if masked.AI.APIKey != "" {
		masked.AI.APIKey = logging.Mask(masked.AI.APIKey)
	}
	return &masked
}
