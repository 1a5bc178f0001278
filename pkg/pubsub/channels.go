package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming for document change notifications.
const (
	channelPrefix = "doc"
	channelSuffix = "changed"

	// DocumentChangesTopic is the Kafka topic every document channel maps to.
	DocumentChangesTopic = "doc-changes"
)

// Event types.
const (
	EventDocumentChanged = "document_changed"
)

// DocumentChannel returns the channel carrying change notifications for a
// document path.
func DocumentChannel(path string) string {
	return fmt.Sprintf("%s:%s:%s", channelPrefix, path, channelSuffix)
}

// ParseDocumentChannel extracts the document path from a channel name.
func ParseDocumentChannel(channel string) (string, error) {
	prefix := channelPrefix + ":"
	suffix := ":" + channelSuffix
	if !strings.HasPrefix(channel, prefix) || !strings.HasSuffix(channel, suffix) || len(channel) <= len(prefix)+len(suffix) {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return channel[len(prefix) : len(channel)-len(suffix)], nil
}
