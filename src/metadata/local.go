package metadata

// LocalKind classifies a LocalInfo entry, ExternLocalInfo's "kind" field.
type LocalKind uint8

const (
	LocalParam LocalKind = iota
	LocalLocal
	LocalExtern
)

var localKindNames = [...]string{"param", "local", "extern"}

func (k LocalKind) String() string {
	if int(k) < len(localKindNames) {
		return localKindNames[k]
	}
	return "unknown local kind"
}

// LocalInfo is one function-local variable descriptor (parameter, local,
// or captured upvalue), ExternLocalInfo's Go twin. Offset is relative to
// the current data-stack frame.
type LocalInfo struct {
	Kind      LocalKind
	TypeIndex uint32
	Offset    uint32
	Size      uint32
	Name      string
	// CloseListID groups locals captured together by a closure, so the
	// upvalue-closing intrinsic (__closeUpvalue) can act on the whole
	// group at once.
	CloseListID uint32
}

// GlobalInfo is one global-variable descriptor, ExternVarInfo's Go twin.
// Offset is relative to the global data region at the data-stack base.
type GlobalInfo struct {
	TypeIndex uint32
	Offset    uint32
	Name      string
}
