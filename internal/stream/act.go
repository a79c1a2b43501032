package stream

// Act is the outcome of resolving a record against an ordered cache.
type Act int

const (
	// Append: the record is newer than everything cached.
	Append Act = iota
	// Ignore: the record is an identical resend of a cached one.
	Ignore
	// Rebuild: everything from the marker index onward must be recomputed.
	Rebuild
)

func (a Act) String() string {
	switch a {
	case Append:
		return "append"
	case Ignore:
		return "ignore"
	case Rebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}
