package config

import (
	"github.com/danmuck/capipc/internal/hipc"
	"github.com/danmuck/capipc/internal/registry"
)

// ServerOptions maps cfg onto hipc server options. Abort and Observer are
// left for the caller.
func (c Config) ServerOptions() hipc.Options {
	return hipc.Options{
		UnknownCommand:    c.UnknownCommandPolicy,
		PointerBufferSize: uint16(c.PointerBufferSize),
		BufferCapacity:    c.BufferCapacity,
		DomainTableSize:   c.DomainTableSize,
	}
}

func (c Config) RegistryOptions() registry.Options {
	return registry.Options{
		MissingService: c.MissingServicePolicy,
		BufferCapacity: c.BufferCapacity,
	}
}
