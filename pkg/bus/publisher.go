// Package bus wraps the streaming-bus client the gateway publishes probe
// batches to. The bus itself is treated as an opaque publish-with-headers
// sink per §1; this package only adapts it to the shape the submission
// coordinator needs.
package bus

import "context"

// Header is one bus message header (agent_id -> routing metadata JSON,
// per §6 "Bus wire format").
type Header struct {
	Key   string
	Value []byte
}

// Message is one bus message: a batch body, a partition key, and a set
// of per-agent routing headers.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers []Header
}

// Publisher publishes messages to the bus using its synchronous,
// delivery-acknowledged mode (§5: "Publish uses the bus's synchronous
// delivery-acknowledged mode").
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
