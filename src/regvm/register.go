package regvm

// Register is one register-file slot: four lanes addressed by a load,
// store, or arithmetic op's semantic width (spec.md §3: "four register
// lanes per register slot (int, long, double, ptr)"). A move (OpMov)
// copies the whole struct; any other op, a call's argument transfer
// included, reads or writes exactly one lane.
type Register struct {
	Int    int32
	Long   int64
	Double float64
	Ptr    uint64
}
