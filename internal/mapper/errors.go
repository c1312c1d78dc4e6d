package mapper

import "fmt"

// ErrorKind classifies a MapError.
type ErrorKind int

const (
	// MissingField is a required field absent or null in strict mode.
	MissingField ErrorKind = iota
	// WrongType is a required field of the wrong JSON type in strict mode.
	WrongType
	// BadElement is a list element that is not a JSON object.
	BadElement
	// LocalArity is a local value count that does not match the family.
	LocalArity
	// BadEnvelope is a "results" field that is present but not an array.
	BadEnvelope
)

func (k ErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case WrongType:
		return "wrong type"
	case BadElement:
		return "bad element"
	case LocalArity:
		return "local arity"
	case BadEnvelope:
		return "bad envelope"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// MapError reports why a payload could not be mapped. Index is the element
// position in the payload, or -1 when the error is not tied to one element.
type MapError struct {
	Kind   ErrorKind
	Family string
	Column string
	Index  int
	Err    error
}

func (e *MapError) Error() string {
	msg := fmt.Sprintf("map %s: %s", e.Family, e.Kind)
	if e.Column != "" {
		msg += " " + e.Column
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" (element %d)", e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MapError) Unwrap() error { return e.Err }
