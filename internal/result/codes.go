package result

var (
	ErrOutOfHandles  = Make(ModuleKernel, 105)
	ErrInvalidHandle = Make(ModuleKernel, 114)
	ErrSessionClosed = Make(ModuleKernel, 123)

	ErrOutOfDomainEntries = Make(ModuleHIPC, 200)

	ErrInvalidHeader     = Make(ModuleSF, 202)
	ErrUnknownCommandID  = Make(ModuleSF, 221)
	ErrTargetNotFound    = Make(ModuleSF, 261)
	ErrInvalidInObjectID = Make(ModuleSF, 262)
	ErrInternal          = Make(ModuleSF, 299)

	ErrNotInitialized    = Make(ModuleSM, 2)
	ErrOutOfSessions     = Make(ModuleSM, 3)
	ErrAlreadyRegistered = Make(ModuleSM, 4)
	ErrInvalidName       = Make(ModuleSM, 6)
	ErrNotRegistered     = Make(ModuleSM, 7)
	ErrServiceNotFound   = Make(ModuleSM, 9)

	ErrKeyNotFound = Make(ModuleKV, 1)
	ErrInvalidKey  = Make(ModuleKV, 2)
)

var names = map[Code]string{
	ErrOutOfHandles:       "OutOfHandles",
	ErrInvalidHandle:      "InvalidHandle",
	ErrSessionClosed:      "SessionClosed",
	ErrOutOfDomainEntries: "OutOfDomainEntries",
	ErrInvalidHeader:      "InvalidHeader",
	ErrUnknownCommandID:   "UnknownCommandId",
	ErrTargetNotFound:     "TargetNotFound",
	ErrInvalidInObjectID:  "InvalidInObjectId",
	ErrInternal:           "Internal",
	ErrNotInitialized:     "NotInitialized",
	ErrOutOfSessions:      "OutOfSessions",
	ErrAlreadyRegistered:  "AlreadyRegistered",
	ErrInvalidName:        "InvalidName",
	ErrNotRegistered:      "NotRegistered",
	ErrServiceNotFound:    "ServiceNotFound",
	ErrKeyNotFound:        "KeyNotFound",
	ErrInvalidKey:         "InvalidKey",
}
