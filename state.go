package strix

import (
	"strconv"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// State is the lifecycle state of a task node.
type State uint8

const (
	Pending State = iota
	Active
	Completed
	Exception
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Active:
		return "ACTIVE"
	case Completed:
		return "COMPLETED"
	case Exception:
		return "EXCEPTION"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
}

// Final reports whether the state can no longer be replaced by the completion cascade.
func (s State) Final() bool {
	return s == Exception || s == Terminated
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ID identifies a node. Scheduler-assigned ids are numbers, manual ids are names;
// the two never compare equal.
type ID struct {
	num  uint64
	name string
	set  bool
}

// NumericID builds the id a scheduler assigns to its n-th node.
func NumericID(n uint64) ID {
	return ID{num: n, set: true}
}

// NamedID builds a manual id.
func NamedID(name string) ID {
	return ID{name: name, set: true}
}

// RandomID builds a manual id from a nanoid.
func RandomID() ID {
	return NamedID(gonanoid.Must())
}

func (i ID) IsZero() bool { return !i.set }

// IsManual reports whether the id was chosen by the caller rather than the scheduler.
func (i ID) IsManual() bool { return i.set && i.name != "" }

func (i ID) String() string {
	switch {
	case !i.set:
		return "<unset>"
	case i.name != "":
		return i.name
	default:
		return "#" + strconv.FormatUint(i.num, 10)
	}
}

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
