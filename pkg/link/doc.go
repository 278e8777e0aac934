// Package link keeps a point-to-point serial link to a paired Bluetooth peer
// alive and turns its byte stream into application messages.
//
// A Manager owns the connection state machine:
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//
// Connect starts a background retry loop that sweeps the paired devices whose
// name starts with the configured prefix and opens a Socket to the first one
// that answers. While connected, a StreamReader pulls bytes into a fixed-size
// buffer and hands them to the application's MessageHandler, which reports how
// many bytes it consumed. Link loss is reported by a LinkObserver; the Manager
// tears the link down and starts reconnecting on its own.
//
// Platform specifics (radio adapter, socket creation, link-state signals and
// event delivery) are supplied through the Adapter, SocketFactory,
// LinkObserver and Notifier interfaces.
//
// Concurrency: all methods of Manager are safe for concurrent use. Reads are
// serialized among themselves, as are writes; one reader and one writer may use
// the socket at the same time.
package link
