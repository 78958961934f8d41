package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/protocol"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the runtime configuration of an ipcctl process.
type Config struct {
	UnknownCommandPolicy hipc.Policy `toml:"unknown_command_policy"`
	MissingServicePolicy hipc.Policy `toml:"missing_service_policy"`
	BufferCapacity       int         `toml:"buffer_capacity"`
	PointerBufferSize    int         `toml:"pointer_buffer_size"`
	MaxSessions          int         `toml:"max_sessions"`
	DomainTableSize      int         `toml:"domain_table_size"`
	AdminAddr            string      `toml:"admin_addr"`
	CorsOrigins          []string    `toml:"cors_origins"`
	LogLevel             string      `toml:"log_level"`
	FallbackServices     []string    `toml:"fallback_services"`
}

func Default() Config {
	return Config{
		UnknownCommandPolicy: hipc.PolicyError,
		MissingServicePolicy: hipc.PolicyError,
		BufferCapacity:       0x1000,
		PointerBufferSize:    hipc.DefaultPointerBufferSize,
		MaxSessions:          64,
		DomainTableSize:      hipc.DefaultDomainTableSize,
		AdminAddr:            "127.0.0.1:9480",
		CorsOrigins:          []string{"http://localhost:3000"},
		LogLevel:             "info",
		FallbackServices:     []string{"kv:u"},
	}
}

type fileConfig struct {
	UnknownCommandPolicy string   `toml:"unknown_command_policy"`
	MissingServicePolicy string   `toml:"missing_service_policy"`
	BufferCapacity       int      `toml:"buffer_capacity"`
	PointerBufferSize    int      `toml:"pointer_buffer_size"`
	MaxSessions          int      `toml:"max_sessions"`
	DomainTableSize      int      `toml:"domain_table_size"`
	AdminAddr            string   `toml:"admin_addr"`
	CorsOrigins          []string `toml:"cors_origins"`
	LogLevel             string   `toml:"log_level"`
	FallbackServices     []string `toml:"fallback_services"`
}

// Load reads path over Default. Keys absent from the file keep their
// defaults. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logging.Warnf("config.Load unknown keys path=%s keys=%v", path, undecoded)
	}

	if meta.IsDefined("unknown_command_policy") {
		p, err := hipc.ParsePolicy(raw.UnknownCommandPolicy)
		if err != nil {
			return Config{}, fmt.Errorf("%w: unknown_command_policy: %v", ErrInvalid, err)
		}
		cfg.UnknownCommandPolicy = p
	}
	if meta.IsDefined("missing_service_policy") {
		p, err := hipc.ParsePolicy(raw.MissingServicePolicy)
		if err != nil {
			return Config{}, fmt.Errorf("%w: missing_service_policy: %v", ErrInvalid, err)
		}
		cfg.MissingServicePolicy = p
	}
	if meta.IsDefined("buffer_capacity") {
		cfg.BufferCapacity = raw.BufferCapacity
	}
	if meta.IsDefined("pointer_buffer_size") {
		cfg.PointerBufferSize = raw.PointerBufferSize
	}
	if meta.IsDefined("max_sessions") {
		cfg.MaxSessions = raw.MaxSessions
	}
	if meta.IsDefined("domain_table_size") {
		cfg.DomainTableSize = raw.DomainTableSize
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("fallback_services") {
		cfg.FallbackServices = normalizeList(raw.FallbackServices)
	}
	return cfg, nil
}

// Validate checks ranges and names.
func Validate(cfg Config) error {
	if _, err := hipc.ParsePolicy(string(cfg.UnknownCommandPolicy)); err != nil {
		return fmt.Errorf("%w: unknown_command_policy: %v", ErrInvalid, err)
	}
	if _, err := hipc.ParsePolicy(string(cfg.MissingServicePolicy)); err != nil {
		return fmt.Errorf("%w: missing_service_policy: %v", ErrInvalid, err)
	}
	if cfg.BufferCapacity < 0x40 {
		return fmt.Errorf("%w: buffer_capacity %d below 64", ErrInvalid, cfg.BufferCapacity)
	}
	if cfg.PointerBufferSize <= 0 || cfg.PointerBufferSize > 0xffff {
		return fmt.Errorf("%w: pointer_buffer_size %d out of range", ErrInvalid, cfg.PointerBufferSize)
	}
	if cfg.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must not be negative", ErrInvalid)
	}
	if cfg.DomainTableSize <= 0 {
		return fmt.Errorf("%w: domain_table_size must be positive", ErrInvalid)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
	}
	for i, name := range cfg.FallbackServices {
		if _, err := protocol.EncodeName(name); err != nil || name == "" {
			return fmt.Errorf("%w: fallback_services[%d] %q is not a service name", ErrInvalid, i, name)
		}
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
