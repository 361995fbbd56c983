package speech

import (
	"io"
)

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // wav, mp3, ogg, webm, ...
	Language  string    `json:"language"` // en-US, zh-CN, ...
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID    string  `json:"sessionId"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Speed        float32 `json:"speed"`  // 0.5-2.0
	Volume       float32 `json:"volume"` // 0.0-2.0
	Format       string  `json:"format"`
	Language     string  `json:"language"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotionScale,omitempty"` // 1-5
}

// TranscriptionRequest asks for the text of an encoded voice clip.
type TranscriptionRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	AudioRef  string `json:"audioRef"`
	Language  string `json:"language"`
}

// SynthesisRequest asks for spoken audio of a reply.
type SynthesisRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	// UserText is the message being answered; it only shapes the speaking tone.
	UserText string `json:"-"`
}
