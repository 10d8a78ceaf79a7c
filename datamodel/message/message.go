package message

import "time"

// Message is one entry of a peer's chat history. Entries are append-only
// and never mutated after creation.
type Message struct {
	Type    string    `cbor:"1,keyasint,omitempty"` // "direct" or "broadcast"
	From    string    `cbor:"2,keyasint,omitempty"` // Sending peer id
	Content string    `cbor:"3,keyasint,omitempty"` // Message text
	Time    time.Time `cbor:"4,keyasint,omitempty"` // Local receive (or send) time
}

// History defines the interface for the chat history store.
type History interface {
	// Append stores a new message at the end of the history.
	Append(*Message) error

	// Recent returns up to n most recent messages, oldest first.
	// n <= 0 returns the full history.
	Recent(n int) ([]*Message, error)

	// Close releases the underlying store.
	Close() error
}
