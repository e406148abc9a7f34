package ssa

// Module is the complete high-level program handed to lower: every
// function's SSA body plus the module-level "global code" function that
// runs once at load time (spec.md §2 "Global code").
//
// Module carries no metadata.Module reference of its own — the type
// indices embedded in its values are meaningful only once paired with
// the metadata.Module the linker produced alongside it. Both are built
// together and passed as a pair to lower.Lower.
type Module struct {
	Functions []*Function

	// GlobalCode is the synthetic top-level initializer function, entered
	// when the interpreter is run with function_id == metadata.NoIndex.
	GlobalCode *Function
}

// NewModule builds an empty Module with an empty global-code function.
func NewModule() *Module {
	return &Module{GlobalCode: NewFunction("", NoType)}
}

// AddFunction appends fn to the module and returns it for chaining.
func (m *Module) AddFunction(fn *Function) *Function {
	m.Functions = append(m.Functions, fn)
	return fn
}
