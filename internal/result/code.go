package result

import (
	"errors"
	"fmt"
)

const (
	moduleBits      = 9
	descriptionBits = 13
	moduleMask      = 1<<moduleBits - 1
	descriptionMask = 1<<descriptionBits - 1
)

// Code packs module:9 | description:13 into the low 22 bits.
// Description 0 means success regardless of module; Success is the
// canonical form.
type Code uint32

const Success Code = 0

// Modules used by this substrate.
const (
	ModuleKernel = 1
	ModuleHIPC   = 11
	ModuleSM     = 21
	ModuleSF     = 10
	ModuleKV     = 350
)

func Make(module, description uint32) Code {
	return Code(module&moduleMask | (description&descriptionMask)<<moduleBits)
}

func (c Code) Module() uint32 {
	return uint32(c) & moduleMask
}

func (c Code) Description() uint32 {
	return (uint32(c) >> moduleBits) & descriptionMask
}

func (c Code) IsSuccess() bool {
	return c.Description() == 0
}

func (c Code) IsFailure() bool {
	return !c.IsSuccess()
}

// Error renders the conventional 2MMM-DDDD form.
func (c Code) Error() string {
	return fmt.Sprintf("%04d-%04d", 2000+c.Module(), c.Description())
}

func (c Code) String() string {
	if c.IsSuccess() {
		return "success"
	}
	if name, ok := names[c]; ok {
		return name + " (" + c.Error() + ")"
	}
	return c.Error()
}

// FromError maps err onto a Code; non-Code errors become ErrInternal.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrInternal
}
