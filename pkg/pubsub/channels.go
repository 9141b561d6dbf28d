package pubsub

import "fmt"

// Channel naming conventions for store change propagation.
const (
	// ChannelCollectionChanges carries committed writes of one collection.
	ChannelCollectionChanges = "chat:collection:%s:changes"
)

// Event types published on a collection channel.
const (
	EventMessageCreated = "message_created"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
)

// CollectionChangesChannel returns the change channel for a collection.
func CollectionChangesChannel(collection string) string {
	return fmt.Sprintf(ChannelCollectionChanges, collection)
}
