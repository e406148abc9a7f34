package treeeval

import (
	"encoding/binary"
	"math"
)

// Eval interprets node against ctx, returning its value and whatever
// control signal (break/continue/return/yield) should propagate to the
// caller. A non-nil ctx.Err() after Eval returns means evaluation aborted
// partway through; the returned Value is meaningless in that case.
func Eval(ctx *Context, node Node) (Value, signal) {
	if !ctx.step() {
		return Value{}, sigNone
	}

	switch n := node.(type) {
	case Literal:
		return n.V, sigNone

	case VarRef:
		s, ok := ctx.storageOf(n.ID)
		if !ok {
			ctx.reportCritical("ERROR: read of undeclared variable")
			return Value{}, sigNone
		}
		return loadValue(s, 0, n.Type), sigNone

	case AddrOf:
		s, ok := ctx.storageOf(n.ID)
		if !ok {
			ctx.reportCritical("ERROR: address of undeclared variable")
			return Value{}, sigNone
		}
		return Value{Kind: KindPointer, Type: n.Type, Ptr: Pointer{Storage: s, Type: n.Type}}, sigNone

	case Deref:
		p, sig := Eval(ctx, n.Ptr)
		if sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
		if p.Kind != KindPointer {
			ctx.reportCritical("ERROR: dereference of a non-pointer value")
			return Value{}, sigNone
		}
		return loadValue(p.Ptr.Storage, p.Ptr.Offset, n.Type), sigNone

	case Binary:
		return evalBinary(ctx, n)

	case Unary:
		return evalUnary(ctx, n)

	case Assign:
		v, sig := Eval(ctx, n.Value)
		if sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
		switch t := n.Target.(type) {
		case AddrOf:
			s, ok := ctx.storageOf(t.ID)
			if !ok {
				ctx.reportCritical("ERROR: store to undeclared variable")
				return Value{}, sigNone
			}
			storeValue(s, 0, v)
		case VarRef:
			s, ok := ctx.storageOf(t.ID)
			if !ok {
				ctx.reportCritical("ERROR: store to undeclared variable")
				return Value{}, sigNone
			}
			storeValue(s, 0, v)
		case Deref:
			p, sig := Eval(ctx, t.Ptr)
			if sig != sigNone || ctx.err != nil {
				return Value{}, sig
			}
			if p.Kind == KindNullptr {
				ctx.reportCritical("ERROR: store to null pointer")
				return Value{}, sigNone
			}
			if p.Kind != KindPointer {
				ctx.reportCritical("ERROR: store through a non-pointer value")
				return Value{}, sigNone
			}
			storeValue(p.Ptr.Storage, p.Ptr.Offset, v)
		default:
			ctx.reportCritical("ERROR: invalid assignment target")
			return Value{}, sigNone
		}
		return v, sigNone

	case Block:
		var v Value
		for _, stmt := range n.Stmts {
			var sig signal
			v, sig = Eval(ctx, stmt)
			if ctx.err != nil {
				return Value{}, sigNone
			}
			if sig != sigNone {
				return v, sig
			}
		}
		return v, sigNone

	case If:
		cond, sig := Eval(ctx, n.Cond)
		if sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
		if truthy(cond) {
			return Eval(ctx, n.Then)
		}
		if n.Else != nil {
			return Eval(ctx, n.Else)
		}
		return Value{}, sigNone

	case Loop:
		return evalLoop(ctx, n)

	case Break:
		ctx.top().breakDepth = n.Depth
		return Value{}, sigBreak

	case Continue:
		ctx.top().continueDepth = n.Depth
		return Value{}, sigContinue

	case Return:
		var v Value
		if n.Value != nil {
			var sig signal
			v, sig = Eval(ctx, n.Value)
			if sig != sigNone || ctx.err != nil {
				return Value{}, sig
			}
		}
		f := ctx.top()
		f.returnValue = v
		// A coroutine that reaches its epilogue Return is done: clear its
		// state storage back to reset (offset-0 == 0) so isCoroutineReset
		// reports true and the same Storage can drive a fresh run.
		if f.coroutine != nil && len(f.coroutine.Bytes) >= 4 {
			writeInt32(f.coroutine.Bytes, 0)
		}
		return v, sigReturn

	case Yield:
		return evalYield(ctx, n)

	case Call:
		return evalCall(ctx, n)

	default:
		ctx.reportCritical("ERROR: unsupported node type %T", node)
		return Value{}, sigNone
	}
}

// loadValue reinterprets the bytes at s.Bytes[offset:] according to
// s.Kind, the storage's own declared static type — ExpressionEval.cpp's
// load path for ExprPointerLiteral, except the "static type" here is the
// ValueKind tag a scalar Storage was declared with rather than a
// metadata.TypeInfo.
func loadValue(s *Storage, offset uint32, typ uint32) Value {
	b := s.Bytes[offset:]
	switch s.Kind {
	case KindBool:
		return Value{Kind: KindBool, Type: typ, Bool: b[0] != 0}
	case KindChar:
		return Value{Kind: KindChar, Type: typ, Char: b[0]}
	case KindInt:
		return Value{Kind: KindInt, Type: typ, Int: int32(binary.LittleEndian.Uint32(b))}
	case KindLong:
		return Value{Kind: KindLong, Type: typ, Long: int64(binary.LittleEndian.Uint64(b))}
	case KindDouble:
		return Value{Kind: KindDouble, Type: typ, Double: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	case KindTypeID:
		return Value{Kind: KindTypeID, Type: binary.LittleEndian.Uint32(b)}
	case KindFuncIndex:
		return Value{Kind: KindFuncIndex, Type: typ, FuncIdx: binary.LittleEndian.Uint32(b)}
	default:
		return Value{Kind: KindVoid, Type: typ}
	}
}

// storeValue reinterprets v's numeric payload into s's declared kind and
// writes it at offset, matching CreateStore's per-literal-type memcpy.
func storeValue(s *Storage, offset uint32, v Value) {
	b := s.Bytes[offset:]
	switch s.Kind {
	case KindBool:
		b[0] = boolByte(truthy(v))
	case KindChar:
		b[0] = byte(asLong(v))
	case KindInt:
		binary.LittleEndian.PutUint32(b, uint32(int32(asLong(v))))
	case KindLong:
		binary.LittleEndian.PutUint64(b, uint64(asLong(v)))
	case KindDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(asFloat(v)))
	case KindTypeID:
		binary.LittleEndian.PutUint32(b, v.Type)
	case KindFuncIndex:
		binary.LittleEndian.PutUint32(b, v.FuncIdx)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func truthy(v Value) bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindChar:
		return v.Char != 0
	case KindInt:
		return v.Int != 0
	case KindLong:
		return v.Long != 0
	case KindDouble:
		return v.Double != 0
	case KindNullptr:
		return false
	case KindPointer:
		return v.Ptr.Storage != nil
	default:
		return false
	}
}

func evalLoop(ctx *Context, n Loop) (Value, signal) {
	if n.Init != nil {
		if _, sig := Eval(ctx, n.Init); sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
	}

	for {
		if n.Cond != nil {
			cond, sig := Eval(ctx, n.Cond)
			if sig != sigNone || ctx.err != nil {
				return Value{}, sig
			}
			if !truthy(cond) {
				return Value{}, sigNone
			}
		}

		if n.Body != nil {
			_, sig := Eval(ctx, n.Body)
			if ctx.err != nil {
				return Value{}, sigNone
			}
			switch sig {
			case sigBreak:
				f := ctx.top()
				f.breakDepth--
				if f.breakDepth > 0 {
					return Value{}, sigBreak
				}
				return Value{}, sigNone
			case sigContinue:
				f := ctx.top()
				f.continueDepth--
				if f.continueDepth > 0 {
					return Value{}, sigContinue
				}
			case sigReturn, sigYield:
				return Value{}, sig
			}
		}

		if n.Post != nil {
			if _, sig := Eval(ctx, n.Post); sig != sigNone || ctx.err != nil {
				return Value{}, sig
			}
		}
	}
}

// evalYield implements the suspend/resume protocol of spec.md §4.4: on
// first pass through a frame (targetYield == 0) a Yield suspends
// evaluation immediately, snapshotting its ordinal into the frame's
// coroutine state storage. On a fast-forwarding re-entry (targetYield >
// 0), every node up to and including the matching ordinal runs as a
// side-effect-free stub; once reached, normal evaluation resumes from the
// statement after it.
func evalYield(ctx *Context, n Yield) (Value, signal) {
	f := ctx.top()

	if f.targetYield > 0 {
		f.yieldOrdinal++
		if f.yieldOrdinal < f.targetYield {
			return Value{}, sigNone
		}
		f.targetYield = 0
		return Value{}, sigNone
	}

	v, sig := Value{}, sigNone
	if n.Value != nil {
		v, sig = Eval(ctx, n.Value)
		if sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
	}

	if f.coroutine != nil && len(f.coroutine.Bytes) >= 4 {
		writeInt32(f.coroutine.Bytes, uint32(n.Ordinal))
	}

	return v, sigYield
}

func writeInt32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func evalCall(ctx *Context, n Call) (Value, signal) {
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, sig := Eval(ctx, a)
		if sig != sigNone || ctx.err != nil {
			return Value{}, sig
		}
		args[i] = v
	}

	if n.Func.Intrinsic != "" {
		v, err := callIntrinsic(ctx, n.Func.Intrinsic, args)
		if err {
			return Value{}, sigNone
		}
		return v, sigNone
	}

	f, ok := ctx.pushFrame()
	if !ok {
		return Value{}, sigNone
	}
	defer ctx.popFrame()

	for i, id := range n.Func.Params {
		if i < len(args) {
			s := NewStorage(args[i].Kind, args[i].Type)
			storeValue(s, 0, args[i])
			f.vars[id] = s
		}
	}

	v, sig := Eval(ctx, n.Func.Body)
	if ctx.err != nil {
		return Value{}, sigNone
	}
	if sig == sigReturn {
		return f.returnValue, sigNone
	}
	if n.Func.ReturnType != NoReturnType {
		ctx.reportCritical("ERROR: function %q did not return a value", n.Func.Name)
		return Value{}, sigNone
	}
	return v, sigNone
}

// NoReturnType marks a Function with no declared return type (void).
const NoReturnType = ^uint32(0)

func evalBinary(ctx *Context, n Binary) (Value, signal) {
	l, sig := Eval(ctx, n.L)
	if sig != sigNone || ctx.err != nil {
		return Value{}, sig
	}
	r, sig := Eval(ctx, n.R)
	if sig != sigNone || ctx.err != nil {
		return Value{}, sig
	}

	if n.Op == BinLogAnd {
		return Value{Kind: KindBool, Bool: truthy(l) && truthy(r)}, sigNone
	}
	if n.Op == BinLogOr {
		return Value{Kind: KindBool, Bool: truthy(l) || truthy(r)}, sigNone
	}

	if l.Kind == KindDouble || r.Kind == KindDouble {
		lf, rf := asFloat(l), asFloat(r)
		switch n.Op {
		case BinAdd:
			return Value{Kind: KindDouble, Type: n.Type, Double: lf + rf}, sigNone
		case BinSub:
			return Value{Kind: KindDouble, Type: n.Type, Double: lf - rf}, sigNone
		case BinMul:
			return Value{Kind: KindDouble, Type: n.Type, Double: lf * rf}, sigNone
		case BinDiv:
			if rf == 0 {
				ctx.reportCritical("ERROR: division by zero")
				return Value{}, sigNone
			}
			return Value{Kind: KindDouble, Type: n.Type, Double: lf / rf}, sigNone
		case BinEQ:
			return Value{Kind: KindBool, Bool: lf == rf}, sigNone
		case BinNE:
			return Value{Kind: KindBool, Bool: lf != rf}, sigNone
		case BinLT:
			return Value{Kind: KindBool, Bool: lf < rf}, sigNone
		case BinLE:
			return Value{Kind: KindBool, Bool: lf <= rf}, sigNone
		case BinGT:
			return Value{Kind: KindBool, Bool: lf > rf}, sigNone
		case BinGE:
			return Value{Kind: KindBool, Bool: lf >= rf}, sigNone
		default:
			ctx.reportCritical("ERROR: operator %d not defined for double", n.Op)
			return Value{}, sigNone
		}
	}

	li, ri := asLong(l), asLong(r)
	kind := KindInt
	if l.Kind == KindLong || r.Kind == KindLong {
		kind = KindLong
	}

	switch n.Op {
	case BinAdd:
		return intResult(kind, n.Type, li+ri), sigNone
	case BinSub:
		return intResult(kind, n.Type, li-ri), sigNone
	case BinMul:
		return intResult(kind, n.Type, li*ri), sigNone
	case BinDiv:
		if ri == 0 {
			ctx.reportCritical("ERROR: division by zero")
			return Value{}, sigNone
		}
		return intResult(kind, n.Type, li/ri), sigNone
	case BinMod:
		if ri == 0 {
			ctx.reportCritical("ERROR: division by zero")
			return Value{}, sigNone
		}
		return intResult(kind, n.Type, li%ri), sigNone
	case BinAnd:
		return intResult(kind, n.Type, li&ri), sigNone
	case BinOr:
		return intResult(kind, n.Type, li|ri), sigNone
	case BinXor:
		return intResult(kind, n.Type, li^ri), sigNone
	case BinShl:
		return intResult(kind, n.Type, li<<uint(ri)), sigNone
	case BinShr:
		return intResult(kind, n.Type, li>>uint(ri)), sigNone
	case BinEQ:
		return Value{Kind: KindBool, Bool: li == ri}, sigNone
	case BinNE:
		return Value{Kind: KindBool, Bool: li != ri}, sigNone
	case BinLT:
		return Value{Kind: KindBool, Bool: li < ri}, sigNone
	case BinLE:
		return Value{Kind: KindBool, Bool: li <= ri}, sigNone
	case BinGT:
		return Value{Kind: KindBool, Bool: li > ri}, sigNone
	case BinGE:
		return Value{Kind: KindBool, Bool: li >= ri}, sigNone
	default:
		ctx.reportCritical("ERROR: unknown binary operator %d", n.Op)
		return Value{}, sigNone
	}
}

func evalUnary(ctx *Context, n Unary) (Value, signal) {
	x, sig := Eval(ctx, n.X)
	if sig != sigNone || ctx.err != nil {
		return Value{}, sig
	}
	switch n.Op {
	case UnNeg:
		if x.Kind == KindDouble {
			return Value{Kind: KindDouble, Type: n.Type, Double: -x.Double}, sigNone
		}
		return intResult(x.Kind, n.Type, -asLong(x)), sigNone
	case UnNot:
		return intResult(x.Kind, n.Type, ^asLong(x)), sigNone
	case UnLogNot:
		return Value{Kind: KindBool, Bool: !truthy(x)}, sigNone
	default:
		ctx.reportCritical("ERROR: unknown unary operator %d", n.Op)
		return Value{}, sigNone
	}
}

func asFloat(v Value) float64 {
	switch v.Kind {
	case KindDouble:
		return v.Double
	case KindLong:
		return float64(v.Long)
	case KindInt:
		return float64(v.Int)
	case KindChar:
		return float64(v.Char)
	default:
		return 0
	}
}

func asLong(v Value) int64 {
	switch v.Kind {
	case KindLong:
		return v.Long
	case KindInt:
		return int64(v.Int)
	case KindChar:
		return int64(v.Char)
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func intResult(kind ValueKind, typ uint32, v int64) Value {
	if kind == KindLong {
		return Value{Kind: KindLong, Type: typ, Long: v}
	}
	return Value{Kind: KindInt, Type: typ, Int: int32(v)}
}
