package speech

import "time"

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 凭证
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置
	AccessKey      string `json:"accessKey"`
	SecretKey      string `json:"secretKey"`
	Region         string `json:"region"`
	BaseURL        string `json:"baseUrl"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发版资源（false为小时版）

	// ASR
	ASRModel      string        `json:"asrModel"`
	ASRLanguage   string        `json:"asrLanguage"`
	ASRChunkDelay time.Duration `json:"asrChunkDelay"` // pacing between 200ms audio packets

	// TTS
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	Timeout int `json:"timeout"` // seconds
}

// RequestTimeout returns the per-call provider deadline.
func (c *SpeechConfig) RequestTimeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
