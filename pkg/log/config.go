package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`

	// Output defaults to os.Stdout.
	Output io.Writer `mapstructure:"-"`
}

var (
	mu     sync.RWMutex
	global = zerolog.New(os.Stdout).With().Timestamp().Logger()
	once   sync.Once
)

// New builds a logger from cfg. Pretty output is meant for a terminal.
func New(cfg Config) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Output != nil {
		w = cfg.Output
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}

	lc := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		lc = lc.Str(FieldService, cfg.ServiceName)
	}
	return lc.Logger()
}

// Init installs the global logger once and routes the standard library
// logger (used by net/http and some drivers) through it.
func Init(cfg Config) {
	once.Do(func() {
		zerolog.DurationFieldUnit = time.Millisecond
		l := New(cfg)
		SetGlobal(l)

		stdlog.SetFlags(0)
		stdlog.SetOutput(l.With().Str("source", "stdlog").Logger())
	})
}

// SetGlobal replaces the global logger. Tests use it to capture output.
func SetGlobal(logger zerolog.Logger) {
	mu.Lock()
	global = logger
	mu.Unlock()
}

// L returns the global logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// parseLevel accepts zerolog level names in any case plus "warning".
// Anything unrecognised logs at info.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
