package link

// MessageHandler consumes buffered bytes from the front of the stream.
//
// HandleMessage receives every byte read but not yet consumed and returns how
// many bytes from the front form complete messages. Returning 0 keeps the bytes
// for the next call, which will see the same prefix plus whatever arrived since.
// Results outside [0, len(buffered)] are clamped by the reader.
//
// The slice is only valid for the duration of the call; copy what must be retained.
type MessageHandler interface {
	HandleMessage(buffered []byte) int
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(buffered []byte) int

func (f MessageHandlerFunc) HandleMessage(buffered []byte) int { return f(buffered) }

// DiscardHandler consumes everything it is given.
var DiscardHandler = MessageHandlerFunc(func(buffered []byte) int { return len(buffered) })
