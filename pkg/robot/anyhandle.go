package robot

// AnyHandle is the type-erased boundary for callers that need to hold
// a connection handle regardless of its current typed state — e.g. a
// registry of connected arms spanning Standby and multiple Active[Mode]
// instantiations in one slice (spec §9 "heterogeneous container
// boundary"). It deliberately exposes only what every state type has
// in common: read access and teardown.
type AnyHandle interface {
	Observer() Observer
	Close() error
}

var (
	_ AnyHandle = Standby{}
	_ AnyHandle = Active[MitMode]{}
	_ AnyHandle = Active[PositionMode]{}
	_ AnyHandle = ReplayMode{}
)

// erasedHandle boxes any AnyHandle-satisfying value so it can be
// stored alongside values of other concrete state types without the
// caller needing to know which one at the call site.
type erasedHandle struct {
	AnyHandle
}

// Erase boxes a concrete state handle as an AnyHandle.
func Erase[T AnyHandle](h T) AnyHandle { return erasedHandle{h} }
