package locale

// DefaultCode is used when a request names no language or an unsupported one.
const DefaultCode = "en-US"

// Language 描述一个可选的回复语言及其朗读音色。
type Language struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	VoiceID string `json:"voiceId,omitempty"`
}

// Seed returns the supported languages in display order. Languages without a
// voice use the configured default speaker.
func Seed() []Language {
	return []Language{
		{Code: "en-US", Label: "English", VoiceID: "en_female_skye_emo_v2_mars_bigtts"},
		{Code: "es-ES", Label: "Español", VoiceID: "multi_female_maomao_conversation_wvae_bigtts"},
		{Code: "fr-FR", Label: "Français", VoiceID: "multi_female_maomao_conversation_wvae_bigtts"},
		{Code: "de-DE", Label: "Deutsch"},
		{Code: "hi-IN", Label: "हिन्दी"},
		{Code: "ja-JP", Label: "日本語", VoiceID: "multi_female_gaolengyujie_moon_bigtts"},
		{Code: "zh-CN", Label: "中文", VoiceID: "zh_female_tianxinxiaomei_emo_v2_mars_bigtts"},
		{Code: "ta-IN", Label: "தமிழ்"},
		{Code: "pa-IN", Label: "ਪੰਜਾਬੀ"},
	}
}
