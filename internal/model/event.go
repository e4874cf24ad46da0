package model

// EventKind tags the variants of Event.
type EventKind int

const (
	EventTick EventKind = iota + 1
	EventBar
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventBar:
		return "bar"
	case EventSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// Event is the closed set {Tick, Bar, Signal}. The unexported marker keeps
// other packages from adding variants, so a type switch over the three is
// exhaustive.
type Event interface {
	Kind() EventKind
	isEvent()
}

func (Tick) Kind() EventKind   { return EventTick }
func (Bar) Kind() EventKind    { return EventBar }
func (Signal) Kind() EventKind { return EventSignal }

func (Tick) isEvent()   {}
func (Bar) isEvent()    {}
func (Signal) isEvent() {}
