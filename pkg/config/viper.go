package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads <dir>/<name>.yaml (also looked up in . and ./config) and
// overlays environment variables: server.port is read from SERVER_PORT.
// A missing file is not an error; defaults and env still apply.
func Load(dir, name string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	for _, p := range []string{dir, ".", "./config"} {
		v.AddConfigPath(p)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil, errors.As(err, &notFound):
		return v, nil
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", name, err)
	}
}

// ParseDuration reads key as a Go duration ("30s", "5m"). Empty or
// malformed values yield def.
func ParseDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
