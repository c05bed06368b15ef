package types

// Event represents a typed event emitted during marketplace state
// transitions. Attributes are flat string pairs so external indexers can
// consume them without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
