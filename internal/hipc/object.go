package hipc

import "github.com/danmuck/capipc/internal/command"

// CommandSet is the per-type command table pair handlers are resolved from.
type CommandSet = command.Set[*Context]

// ServiceObject is a unit of addressable behavior. Commands must return the
// set declared for the object's exact dynamic type.
type ServiceObject interface {
	Commands() *CommandSet
}

// Disposable objects are released when removed from a domain or when their
// owning session closes.
type Disposable interface {
	Dispose()
}

// Named objects report a diagnostic name used in logs and metrics.
type Named interface {
	ServiceName() string
}

func dispose(obj ServiceObject) {
	if d, ok := obj.(Disposable); ok {
		d.Dispose()
	}
}

func checkOwnership(obj ServiceObject) error {
	if obj == nil {
		return ErrNilObject
	}
	set := obj.Commands()
	if set == nil || !set.Owns(obj) {
		return ErrForeignCommandSet
	}
	return nil
}
