package link

import "time"

// EventType is the kind of lifecycle notification emitted by a Manager.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification. Device is the zero value for EventFailed.
type Event struct {
	Type   EventType
	Device Device
	Time   time.Time
}

// Notifier delivers lifecycle events to the rest of the application.
// Notify is called from Manager goroutines and must not block for long.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
