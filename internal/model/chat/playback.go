package chat

import "fmt"

// PlaybackPatch is a partial update of a message's playback fields.
type PlaybackPatch struct {
	IsPlaying *bool    `json:"isPlaying,omitempty"`
	Progress  *float64 `json:"progress,omitempty"`
}

// PlaybackEvent is a signal from the audio element.
type PlaybackEvent string

const (
	PlaybackPlay       PlaybackEvent = "play"
	PlaybackPause      PlaybackEvent = "pause"
	PlaybackEnd        PlaybackEvent = "end"
	PlaybackTimeUpdate PlaybackEvent = "timeupdate"
)

// ParsePlaybackEvent validates a raw event name.
func ParsePlaybackEvent(raw string) (PlaybackEvent, error) {
	switch ev := PlaybackEvent(raw); ev {
	case PlaybackPlay, PlaybackPause, PlaybackEnd, PlaybackTimeUpdate:
		return ev, nil
	case "ended":
		return PlaybackEnd, nil
	default:
		return "", fmt.Errorf("unknown playback event %q", raw)
	}
}

// PlaybackState is derived from IsPlaying and the last event.
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackEnded   PlaybackState = "ended"
)
