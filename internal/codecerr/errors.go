// Package codecerr defines the failure taxonomy shared by every stage of
// the reconciliation codec: parsing, slicing, peeling, and driving.
package codecerr

import "fmt"

// Kind discriminates the ways a decode can fail. Every decode-path error in
// this module carries one of these; callers that only need the single
// Boolean the driver exposes can ignore it, but errors.As recovers it.
type Kind int

const (
	// ParseTruncated means a wire-format decode read past its span.
	ParseTruncated Kind = iota
	// ParseInvalid means an unexpected token or an out-of-range field.
	ParseInvalid
	// DuplicateSlice means the same theirs-slice appeared twice during peel.
	DuplicateSlice
	// Corrupt means an ours-slice's Tid48 was not in the candidate set.
	Corrupt
	// BadFragment means reassembled slices were not monotonic, or the
	// leading fragment offset was non-zero, or the slice count was invalid.
	BadFragment
	// Incomplete means a transaction was missing trailing fragments.
	Incomplete
	// Residual means peel terminated with no singleton yet the IBLT was
	// still non-empty.
	Residual
	// InvariantViolation signals an encode-side programmer error: an empty
	// mempool lookup, a slice count that overflows the wire format, etc.
	InvariantViolation
)

func (k Kind) String() string {
	switch k {
	case ParseTruncated:
		return "parse truncated"
	case ParseInvalid:
		return "parse invalid"
	case DuplicateSlice:
		return "duplicate slice"
	case Corrupt:
		return "corrupt"
	case BadFragment:
		return "bad fragment"
	case Incomplete:
		return "incomplete"
	case Residual:
		return "residual"
	case InvariantViolation:
		return "invariant violation"
	default:
		return "unknown"
	}
}

// Error is the concrete type every package in this module returns for a
// taxonomy failure. Reason carries the human-readable detail; Kind is what
// callers branch on via errors.As.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// New builds an *Error with a formatted reason.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Sentinel returns a zero-Reason *Error so errors.Is can match on Kind
// alone, e.g. errors.Is(err, codecerr.Sentinel(codecerr.Residual)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Is reports whether target is an *Error of the same Kind; Reason is
// ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
