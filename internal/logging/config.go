package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	EnvLogLevel     = "CAPIPC_LOG_LEVEL"
	EnvLogTimestamp = "CAPIPC_LOG_TIMESTAMP"
	EnvLogNoColor   = "CAPIPC_LOG_NOCOLOR"
	EnvLogBypass    = "CAPIPC_LOG_BYPASS"
)

// Profile selects the baseline a process starts from before env overrides.
type Profile int

const (
	// ProfileRuntime is for the daemon and the CLI: info level, timestamps.
	ProfileRuntime Profile = iota
	// ProfileTest keeps every dispatch line and drops timestamps.
	ProfileTest
)

// Config is the logger shape applied by Configure.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	// Bypass writes raw JSON lines instead of console formatting.
	Bypass bool
}

var levelNames = map[string]Level{
	"trace":       TraceLevel,
	"diagnostics": TraceLevel,
	"debug":       DebugLevel,
	"info":        InfoLevel,
	"warn":        WarnLevel,
	"warning":     WarnLevel,
	"error":       ErrorLevel,
	"off":         Disabled,
	"none":        Disabled,
	"disabled":    Disabled,
}

var configureOnce sync.Once

func ConfigureRuntime() { Configure(ProfileRuntime) }
func ConfigureTests()   { Configure(ProfileTest) }

// Configure installs the process logger once; later calls are no-ops.
// Use SetLevel to adjust a running process.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		apply(Resolve(profile, os.Getenv))
	})
}

// Resolve builds the Config for profile with CAPIPC_LOG_* values read
// through getenv layered on top.
func Resolve(profile Profile, getenv func(string) string) Config {
	cfg := Config{Level: InfoLevel, Timestamp: true}
	if profile == ProfileTest {
		cfg.Level = DebugLevel
		cfg.Timestamp = false
	}
	if getenv == nil {
		return cfg
	}
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	for key, dst := range map[string]*bool{
		EnvLogTimestamp: &cfg.Timestamp,
		EnvLogNoColor:   &cfg.NoColor,
		EnvLogBypass:    &cfg.Bypass,
	} {
		if v, err := strconv.ParseBool(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	return cfg
}

// ParseLevel maps a config or env spelling onto a Level. Unknown and empty
// spellings report false.
func ParseLevel(raw string) (Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return InfoLevel, false
	}
	return lvl, true
}
