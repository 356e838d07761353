package types

// Event represents a typed event emitted by a committed transaction. Attribute
// values are pre-formatted strings so indexers need no module knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
