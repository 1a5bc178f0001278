package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentChannelRoundTrip(t *testing.T) {
	for _, path := range []string{"rooms/show-1", "matches/fixture:42"} {
		ch := DocumentChannel(path)
		got, err := ParseDocumentChannel(ch)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	}
}

func TestParseDocumentChannel_Invalid(t *testing.T) {
	for _, ch := range []string{"", "doc::changed", "signal:room:1:to_media", "doc:rooms/x"} {
		_, err := ParseDocumentChannel(ch)
		assert.Error(t, err, ch)
	}
}

func TestSanitizeGroupID(t *testing.T) {
	assert.Equal(t, "rooms-show-1", sanitizeGroupID("rooms/show 1"))
}
