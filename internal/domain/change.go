package domain

// Change types delivered to live query subscribers.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeRemoved  = "removed"
)

// ChangeEvent describes how one message moved relative to a live window.
// NewIndex is the position after the change, -1 when removed.
type ChangeEvent struct {
	Type     string  `json:"type"`
	Message  Message `json:"message"`
	OldIndex int     `json:"old_index"`
	NewIndex int     `json:"new_index"`
}

// Mutation is a committed write as carried on the change bus.
type Mutation struct {
	Kind    string  `json:"kind"` // pubsub event type
	Message Message `json:"message"`
}
