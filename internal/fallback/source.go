package fallback

import "github.com/weiawesome/wes-io-multicam/internal/domain"

// EffectiveSource returns what is shown for a slot: the fallback image when
// the override is on, else the live stream when one is flowing, else the
// no-signal placeholder. Exactly one of the three is ever shown.
func EffectiveSource(cam *domain.CameraConnection, hasLiveStream bool) domain.EffectiveSource {
	if cam != nil && cam.IsUsingFallback && cam.HasFallbackImage() {
		return domain.SourceFallback
	}
	if hasLiveStream {
		return domain.SourceLive
	}
	return domain.SourceNoSignal
}

// Sources evaluates EffectiveSource for every slot. live reports whether a
// slot currently has a media stream; nil treats a connected camera as live.
func Sources(room *domain.BroadcastRoom, live func(domain.SlotID) bool) map[domain.SlotID]domain.EffectiveSource {
	out := make(map[domain.SlotID]domain.EffectiveSource, len(domain.Slots))
	for _, slot := range domain.Slots {
		cam := room.Camera(slot)
		streaming := cam.Connected()
		if live != nil {
			streaming = live(slot)
		}
		out[slot] = EffectiveSource(cam, streaming)
	}
	return out
}
