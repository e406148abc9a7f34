package treeeval

// The fixed intrinsic set the evaluator emulates directly for functions
// with no tree body (spec.md §4.4). callIntrinsic reports true (and sets
// ctx.err) when name is unknown or the call fails. An unknown name,
// malformed arguments, an unregistered type or dispatch entry, or a
// memory limit is a non-critical error, since a missing intrinsic is a
// tooling gap rather than undefined behaviour in the evaluated program;
// a failed assert, a negative __newA count and a failed
// assert_derived_from_base are critical.
func callIntrinsic(ctx *Context, name string, args []Value) (Value, bool) {
	switch name {
	case "assert":
		return intrinsicAssert(ctx, args)

	case "__newS":
		return intrinsicNewS(ctx, args)
	case "__newA":
		return intrinsicNewA(ctx, args)

	case "__rcomp", "__acomp":
		return intrinsicIdentityCompare(ctx, args, true)
	case "__rncomp", "__ancomp":
		return intrinsicIdentityCompare(ctx, args, false)
	case "__pcomp":
		return intrinsicPointerCompare(ctx, args, true)
	case "__pncomp":
		return intrinsicPointerCompare(ctx, args, false)

	case "__typeCount":
		return Value{Kind: KindInt, Int: int32(ctx.typeCount)}, false

	case "__redirect", "__redirect_ptr":
		return intrinsicRedirect(ctx, args)

	case "duplicate":
		return intrinsicDuplicate(ctx, args)

	case "typeid":
		if len(args) != 1 {
			ctx.report("ERROR: typeid() expects one argument")
			return Value{}, true
		}
		return Value{Kind: KindTypeID, Type: args[0].Type}, false

	case "auto_array":
		return intrinsicAutoArray(ctx, args)

	case "array_copy":
		return intrinsicArrayCopy(ctx, args)

	case "assert_derived_from_base":
		return intrinsicAssertDerivedFromBase(ctx, args)

	case "__closeUpvalue":
		return intrinsicCloseUpvalue(ctx, args)

	case "isCoroutineReset", "isCoroutineCall", "isCoroutineComplete":
		return intrinsicCoroutineQuery(ctx, name, args)

	default:
		ctx.report("ERROR: unknown intrinsic %q", name)
		return Value{}, true
	}
}

func intrinsicAssert(ctx *Context, args []Value) (Value, bool) {
	if len(args) < 1 {
		ctx.report("ERROR: assert() expects one argument")
		return Value{}, true
	}
	if !truthy(args[0]) {
		ctx.reportCritical("ERROR: assertion failed")
		return Value{}, true
	}
	return Value{Kind: KindBool, Bool: true}, false
}

// intrinsicNewS allocates a single zeroed instance of a type whose id is
// given as the first argument (__newS(typeID)).
func intrinsicNewS(ctx *Context, args []Value) (Value, bool) {
	if len(args) < 1 {
		ctx.report("ERROR: __newS() expects a type argument")
		return Value{}, true
	}
	size, ok := ctx.typeSize(args[0].Type)
	if !ok {
		ctx.report("ERROR: __newS(): unknown type")
		return Value{}, true
	}
	s, ok := ctx.allocate(size, KindVoid, args[0].Type)
	if !ok {
		return Value{}, true
	}
	return Value{Kind: KindPointer, Type: args[0].Type, Ptr: Pointer{Storage: s, Type: args[0].Type}}, false
}

// intrinsicNewA allocates count elements of an element type
// (__newA(typeID, count)), producing an array-ref pointer.
func intrinsicNewA(ctx *Context, args []Value) (Value, bool) {
	if len(args) < 2 {
		ctx.report("ERROR: __newA() expects a type and a count argument")
		return Value{}, true
	}
	elemSize, ok := ctx.typeSize(args[0].Type)
	if !ok {
		ctx.report("ERROR: __newA(): unknown type")
		return Value{}, true
	}
	count := asLong(args[1])
	if count < 0 {
		ctx.reportCritical("ERROR: negative array size")
		return Value{}, true
	}
	s, ok := ctx.allocate(elemSize*uint32(count), KindVoid, args[0].Type)
	if !ok {
		return Value{}, true
	}
	return Value{Kind: KindPointer, Type: args[0].Type, Ptr: Pointer{Storage: s, Type: args[0].Type}}, false
}

// intrinsicIdentityCompare implements __rcomp/__acomp's family: reference
// and auto-ref identity comparison by storage+offset, not by value.
func intrinsicIdentityCompare(ctx *Context, args []Value, equal bool) (Value, bool) {
	if len(args) != 2 {
		ctx.report("ERROR: identity comparison expects two arguments")
		return Value{}, true
	}
	same := identical(args[0], args[1])
	return Value{Kind: KindBool, Bool: same == equal}, false
}

func intrinsicPointerCompare(ctx *Context, args []Value, equal bool) (Value, bool) {
	if len(args) != 2 {
		ctx.report("ERROR: pointer comparison expects two arguments")
		return Value{}, true
	}
	same := identical(args[0], args[1])
	return Value{Kind: KindBool, Bool: same == equal}, false
}

func identical(a, b Value) bool {
	if a.Kind == KindNullptr || b.Kind == KindNullptr {
		return a.Kind == b.Kind
	}
	if a.Kind != KindPointer || b.Kind != KindPointer {
		return false
	}
	return a.Ptr.Storage == b.Ptr.Storage && a.Ptr.Offset == b.Ptr.Offset
}

// intrinsicRedirect looks up fn.FuncIdx in ctx.vtable (a dispatch table
// populated by the caller before evaluation) and returns the resolved
// function index, the constant-folding twin of a virtual call's runtime
// table lookup.
func intrinsicRedirect(ctx *Context, args []Value) (Value, bool) {
	if len(args) < 1 {
		ctx.report("ERROR: __redirect() expects a function-index argument")
		return Value{}, true
	}
	resolved, ok := ctx.vtable[args[0].FuncIdx]
	if !ok {
		ctx.report("ERROR: __redirect(): no dispatch entry")
		return Value{}, true
	}
	return Value{Kind: KindFuncIndex, FuncIdx: resolved}, false
}

// intrinsicDuplicate deep-copies an auto-ref or auto-array's backing
// storage into a fresh allocation.
func intrinsicDuplicate(ctx *Context, args []Value) (Value, bool) {
	if len(args) != 1 || args[0].Kind != KindPointer {
		ctx.report("ERROR: duplicate() expects a reference argument")
		return Value{}, true
	}
	src := args[0].Ptr.Storage
	dst, ok := ctx.allocate(uint32(len(src.Bytes)), src.Kind, src.Type)
	if !ok {
		return Value{}, true
	}
	copy(dst.Bytes, src.Bytes)
	return Value{Kind: KindPointer, Type: args[0].Type, Ptr: Pointer{Storage: dst, Type: args[0].Type}}, false
}

// intrinsicAutoArray type-erases a sized array reference into an
// auto-array value carrying its own element type id alongside the data.
func intrinsicAutoArray(ctx *Context, args []Value) (Value, bool) {
	if len(args) != 1 || args[0].Kind != KindPointer {
		ctx.report("ERROR: auto_array() expects a reference argument")
		return Value{}, true
	}
	return args[0], false
}

// intrinsicArrayCopy copies min(len(src), len(dst)) bytes between two
// reference arguments, the constant-folding twin of the runtime's
// memmove-based array assignment.
func intrinsicArrayCopy(ctx *Context, args []Value) (Value, bool) {
	if len(args) != 2 || args[0].Kind != KindPointer || args[1].Kind != KindPointer {
		ctx.report("ERROR: array_copy() expects two reference arguments")
		return Value{}, true
	}
	dst, src := args[0].Ptr.Storage, args[1].Ptr.Storage
	n := len(dst.Bytes)
	if len(src.Bytes) < n {
		n = len(src.Bytes)
	}
	copy(dst.Bytes, src.Bytes[:n])
	return Value{Kind: KindVoid}, false
}

// intrinsicAssertDerivedFromBase checks a recorded base-type chain; ctx's
// caller supplies it via RegisterBaseType since treeeval has no
// metadata.Module to consult directly.
func intrinsicAssertDerivedFromBase(ctx *Context, args []Value) (Value, bool) {
	if len(args) != 2 {
		ctx.report("ERROR: assert_derived_from_base() expects two type arguments")
		return Value{}, true
	}
	derived, base := args[0].Type, args[1].Type
	for t := derived; ; {
		if t == base {
			return Value{Kind: KindBool, Bool: true}, false
		}
		parent, ok := ctx.baseOf[t]
		if !ok {
			ctx.reportCritical("ERROR: type is not derived from base")
			return Value{}, true
		}
		t = parent
	}
}

// intrinsicCloseUpvalue zeroes a captured-by-reference storage's upvalue
// slot, emulating the closure-capture teardown the runtime performs when
// a coroutine's enclosing scope exits.
func intrinsicCloseUpvalue(ctx *Context, args []Value) (Value, bool) {
	if len(args) != 1 || args[0].Kind != KindPointer {
		ctx.report("ERROR: __closeUpvalue() expects a reference argument")
		return Value{}, true
	}
	for i := range args[0].Ptr.Storage.Bytes {
		args[0].Ptr.Storage.Bytes[i] = 0
	}
	return Value{Kind: KindVoid}, false
}

// intrinsicCoroutineQuery reads the reserved coroutine-state integer at
// offset 0 of the context struct (spec.md's "coroutine state encoded via
// a reserved integer at offset 0") through a named helper rather than a
// magic offset.
func intrinsicCoroutineQuery(ctx *Context, name string, args []Value) (Value, bool) {
	if len(args) != 1 || args[0].Kind != KindPointer {
		ctx.report("ERROR: %s() expects a context-reference argument", name)
		return Value{}, true
	}
	state := coroutineState(args[0].Ptr.Storage)
	switch name {
	case "isCoroutineReset":
		return Value{Kind: KindBool, Bool: state == 0}, false
	case "isCoroutineCall":
		return Value{Kind: KindBool, Bool: state > 0}, false
	case "isCoroutineComplete":
		return Value{Kind: KindBool, Bool: state < 0}, false
	default:
		ctx.report("ERROR: unknown coroutine query %q", name)
		return Value{}, true
	}
}

func coroutineState(s *Storage) int32 {
	if len(s.Bytes) < 4 {
		return 0
	}
	return int32(uint32(s.Bytes[0]) | uint32(s.Bytes[1])<<8 | uint32(s.Bytes[2])<<16 | uint32(s.Bytes[3])<<24)
}
