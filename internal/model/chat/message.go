package chat

import "time"

// Role 标识一条消息的发送方。
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one confirmed exchange entry as sent to the responder.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is a Turn plus the presentation state the client renders.
type Message struct {
	ID               string        `json:"id"`
	SessionID        string        `json:"sessionId"`
	Role             Role          `json:"role"`
	Content          string        `json:"content"`
	AudioRef         string        `json:"audioRef,omitempty"`
	IsPlaying        bool          `json:"isPlaying"`
	PlaybackProgress float64       `json:"playbackProgress"`
	PlaybackState    PlaybackState `json:"playbackState,omitempty"`
	Pending          bool          `json:"pending,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// Turn projects the message onto the prompt history shape.
func (m Message) Turn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// HasAudio reports whether speech has been attached.
func (m Message) HasAudio() bool {
	return m.AudioRef != ""
}
