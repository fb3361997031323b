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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/logging"
	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/styles"
)

var (
	cfgFile   string
	debugMode bool
	noColor   bool
	themeName string

	cfg       *config.Config
	logger    *log.Logger
	logCloser io.Closer

	mcpMu      sync.Mutex
	mcpManager *mcp.Manager
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatpipe",
	Short: "chatpipe - streaming AI chat with MCP tools",
	Long: `chatpipe streams answers from an AI model, runs the MCP tool calls the
model asks for (after you approve them) and continues the conversation from
their results.

Messages are stored as ordered segments: text, thinking spans and tool cards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/chatpipe/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&themeName, "theme", "default", "color theme ("+strings.Join(styles.GetAvailableThemes(), ", ")+")")
	rootCmd.PersistentFlags().String("model", "", "AI model to use (overrides config)")
	rootCmd.PersistentFlags().String("storage-driver", "", "message store: file or sqlite")
	rootCmd.PersistentFlags().String("storage-path", "", "message store location")

	// Bind flags to viper
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("storage.driver", rootCmd.PersistentFlags().Lookup("storage-driver"))
	viper.BindPFlag("storage.path", rootCmd.PersistentFlags().Lookup("storage-path"))

	// Set environment variable prefix
	viper.SetEnvPrefix("CHATPIPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// initConfig loads the configuration file and applies flag overrides.
func initConfig() error {
	// Load configuration
	loaded, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		// An explicit file must load
		if cfgFile != "" {
			return err
		}
		fmt.Fprintf(os.Stderr, "Warning: Failed to load configuration: %v\n", err)
		loaded = config.NewDefaultConfig()
	}
	cfg = loaded

	// Apply command line overrides
	applyViperOverrides(cfg)

	if IsDebug() {
		cfg.Logging.Level = "debug"
	}

	// Handle color settings
	if noColor || viper.GetBool("no_color") || os.Getenv("NO_COLOR") != "" {
		os.Setenv("NO_COLOR", "1")
	}


	// Initialize logging
	l, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
		l, closer = log.New(os.Stderr), nil
	}
	logger, logCloser = l, closer
	return nil
}

func applyViperOverrides(c *config.Config) {
	if m := viper.GetString("model"); m != "" {
		c.AI.Model = m
	}
	if d := viper.GetString("storage.driver"); d != "" {
		c.Storage.Driver = d
	}
	if p := viper.GetString("storage.path"); p != "" {
		c.Storage.Path = p
	}
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	return cfg
}

// IsDebug returns whether debug mode is enabled
func IsDebug() bool {
	return debugMode || viper.GetBool("debug")
}

func getLogger() *log.Logger {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return logger
}

func terminalStyles() styles.Styles {
	return styles.ForTerminal(themeName)
}

func openStore(c *config.Config) (store.Store, error) {
	s, err := store.Open(c.Storage.Driver, c.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store at %s: %w", c.Storage.Driver, c.Storage.Path, err)
	}
	return s, nil
}

func colorEnabled() bool {
	return !noColor && os.Getenv("NO_COLOR") == ""
}

// ShowError displays an error message to the user
func ShowError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if colorEnabled() {
		fmt.Fprintf(os.Stderr, "\033[31mError: %s\033[0m\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
}

// ShowWarning displays a warning message to the user
func ShowWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if colorEnabled() {
		fmt.Fprintf(os.Stderr, "\033[33mWarning: %s\033[0m\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
	}
}

// ShowInfo displays an informational message to the user
func ShowInfo(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(msg)
}

// setMCPManager records the manager ShutdownMCP stops.
func setMCPManager(m *mcp.Manager) {
	mcpMu.Lock()
	mcpManager = m
	mcpMu.Unlock()
}

// ShutdownMCP gracefully shuts down the MCP manager
func ShutdownMCP() error {
	mcpMu.Lock()
	m := mcpManager
	mcpMu.Unlock()
	if m == nil {
		return nil
	}
	// Stop all servers
	if IsDebug() {
		fmt.Println("Shutting down MCP servers...")
	}
	return m.StopAll()
}
