package commands

import (
	"os"
	"path/filepath"

	"github.com/hay-kot/pgchat/internal/core/config"
	"github.com/hay-kot/pgchat/pkg/executil"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Token and Server override the config file for one invocation.
	Token  string
	Server string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Executor runs hook commands
	Executor executil.Executor
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "pgchat", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "pgchat")
}
