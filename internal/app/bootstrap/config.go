package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charlesng35/popshop/internal/app"
)

// LoadConfig reads configuration from path, which may be a directory, a
// config file or empty for the default search paths. Runtime defaults are
// applied and the result is validated. The returned map names the settings
// that were derived rather than configured.
func LoadConfig(path string, allowDevSecret bool) (*app.Config, map[string]bool, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg, allowDevSecret)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, generated, nil
}

// ReadConfig loads configuration without applying defaults or validating it.
// Commands that only touch the database use it directly.
func ReadConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig(path)
	case err == nil:
		return app.LoadConfig(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
