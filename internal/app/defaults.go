package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Environment variables read by GetDefaults.
const (
	EnvConfigPath = "PLANSTORE_CONFIG_PATH"
	EnvHome       = "PLANSTORE_HOME"
	EnvDebug      = "PLANSTORE_DEBUG"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - PLANSTORE_CONFIG_PATH: config file location (default: ~/.config/planstore.toml)
//   - PLANSTORE_HOME: base directory for planstore data (default: ~/.local/share/planstore)
func GetDefaults() (map[string]string, error) {
	v := newEnv()

	configPath, err := getConfigPath(v)
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir(v)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for _, k := range []string{EnvConfigPath, EnvHome, EnvDebug} {
		_ = v.BindEnv(k)
	}
	return v
}

// getConfigPath returns the config file path, checking PLANSTORE_CONFIG_PATH first,
// then falling back to the default ~/.config/planstore.toml.
func getConfigPath(v *viper.Viper) (string, error) {
	if path := v.GetString(EnvConfigPath); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "planstore.toml"), nil
}

// getBaseDir returns the base directory for planstore data, checking PLANSTORE_HOME first,
// then falling back to the XDG default ~/.local/share/planstore.
func getBaseDir(v *viper.Viper) (string, error) {
	if path := v.GetString(EnvHome); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "planstore"), nil
}

// debugEnabled reports whether PLANSTORE_DEBUG is set to a true value.
func debugEnabled() bool {
	return newEnv().GetBool(EnvDebug)
}
