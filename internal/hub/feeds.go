package hub

import (
	"context"
	"fmt"
	"strings"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/clock"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/fallback"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// Topic prefixes.
const (
	showTopicPrefix  = "show:"
	matchTopicPrefix = "match:"
)

// Message types pushed to viewers.
const (
	MessageRoom  = "room"
	MessageClock = "clock"
)

// ShowTopic names the topic carrying a show's room.
func ShowTopic(showID string) string {
	return showTopicPrefix + showID
}

// MatchTopic names the topic carrying a fixture's live clock.
func MatchTopic(fixtureID string) string {
	return matchTopicPrefix + fixtureID
}

// RoomMessage is pushed on every room change.
type RoomMessage struct {
	Type    string                                   `json:"type"`
	ShowID  string                                   `json:"showId"`
	Room    *domain.ViewerRoom                       `json:"room"`
	Sources map[domain.SlotID]domain.EffectiveSource `json:"sources"`
}

// ClockMessage is pushed on every clock change and tick.
type ClockMessage struct {
	Type      string        `json:"type"`
	FixtureID string        `json:"fixtureId"`
	Reading   clock.Reading `json:"reading"`
}

// LiveFunc reports, for a show, which slots have video flowing. It returns
// nil when this process does not run the show's director.
type LiveFunc func(showID string) func(domain.SlotID) bool

// Feeds starts show and match feeds.
type Feeds struct {
	Protocol *broadcast.Protocol
	Store    signaling.Store
	Live     LiveFunc
	// ClockOptions are passed to every clock watcher.
	ClockOptions []clock.WatcherOption
}

// Start implements Feed. The feed outlives the joining request, so ctx only
// contributes its logger.
func (f *Feeds) Start(ctx context.Context, topic string, publish func(interface{})) (func(), error) {
	runCtx := log.WithLogger(context.Background(), log.Ctx(ctx))

	switch {
	case strings.HasPrefix(topic, showTopicPrefix):
		showID := strings.TrimPrefix(topic, showTopicPrefix)
		return f.Protocol.Watch(runCtx, showID, func(room *domain.BroadcastRoom) {
			var live func(domain.SlotID) bool
			if f.Live != nil {
				live = f.Live(showID)
			}
			publish(&RoomMessage{
				Type:    MessageRoom,
				ShowID:  showID,
				Room:    room.ForViewers(),
				Sources: fallback.Sources(room, live),
			})
		})

	case strings.HasPrefix(topic, matchTopicPrefix):
		fixtureID := strings.TrimPrefix(topic, matchTopicPrefix)
		w, err := clock.Watch(runCtx, f.Store, fixtureID, func(r clock.Reading) {
			publish(&ClockMessage{Type: MessageClock, FixtureID: fixtureID, Reading: r})
		}, f.ClockOptions...)
		if err != nil {
			return nil, err
		}
		return w.Close, nil
	}

	return nil, fmt.Errorf("%w: unknown topic %q", domain.ErrInvalidArgument, topic)
}
