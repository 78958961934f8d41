package protocol

// ControlCommand is the command id of a control message.
type ControlCommand uint32

const (
	ControlConvertToDomain    ControlCommand = 0
	ControlCopyFromDomain     ControlCommand = 1
	ControlCloneObject        ControlCommand = 2
	ControlQueryPointerBuffer ControlCommand = 3
	ControlCloneObjectEx      ControlCommand = 4
)

func (c ControlCommand) String() string {
	switch c {
	case ControlConvertToDomain:
		return "ConvertCurrentObjectToDomain"
	case ControlCopyFromDomain:
		return "CopyFromCurrentDomain"
	case ControlCloneObject:
		return "CloneCurrentObject"
	case ControlQueryPointerBuffer:
		return "QueryPointerBufferSize"
	case ControlCloneObjectEx:
		return "CloneCurrentObjectEx"
	default:
		return "unknown"
	}
}
