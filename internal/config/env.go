package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/capipc/internal/hipc"
)

const (
	EnvUnknownCommandPolicy = "CAPIPC_UNKNOWN_COMMAND_POLICY"
	EnvMissingServicePolicy = "CAPIPC_MISSING_SERVICE_POLICY"
	EnvBufferCapacity       = "CAPIPC_BUFFER_CAPACITY"
	EnvPointerBufferSize    = "CAPIPC_POINTER_BUFFER_SIZE"
	EnvMaxSessions          = "CAPIPC_MAX_SESSIONS"
	EnvAdminAddr            = "CAPIPC_ADMIN_ADDR"
	EnvFallbackServices     = "CAPIPC_FALLBACK_SERVICES"
)

// ApplyEnv overlays CAPIPC_* variables read through getenv. log_level is
// left to the logging package, which reads CAPIPC_LOG_LEVEL itself.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	if v := strings.TrimSpace(getenv(EnvUnknownCommandPolicy)); v != "" {
		p, err := hipc.ParsePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvUnknownCommandPolicy, err)
		}
		cfg.UnknownCommandPolicy = p
	}
	if v := strings.TrimSpace(getenv(EnvMissingServicePolicy)); v != "" {
		p, err := hipc.ParsePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, EnvMissingServicePolicy, err)
		}
		cfg.MissingServicePolicy = p
	}
	ints := []struct {
		key string
		dst *int
	}{
		{EnvBufferCapacity, &cfg.BufferCapacity},
		{EnvPointerBufferSize, &cfg.PointerBufferSize},
		{EnvMaxSessions, &cfg.MaxSessions},
	}
	for _, e := range ints {
		v := strings.TrimSpace(getenv(e.key))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 0, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalid, e.key, err)
		}
		*e.dst = int(n)
	}
	if v := strings.TrimSpace(getenv(EnvAdminAddr)); v != "" {
		cfg.AdminAddr = v
	}
	if v := getenv(EnvFallbackServices); v != "" {
		cfg.FallbackServices = normalizeList(strings.Split(v, ","))
	}
	return cfg, nil
}
