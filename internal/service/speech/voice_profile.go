package speech

import (
	"strings"

	"github.com/verdantsentinel/backend/internal/analysis/tone"
)

var emotionVoiceWhitelist = map[string]struct{}{
	"en_female_candice_emo_v2_mars_bigtts":        {},
	"en_female_skye_emo_v2_mars_bigtts":           {},
	"en_male_glen_emo_v2_mars_bigtts":             {},
	"en_male_corey_emo_v2_mars_bigtts":            {},
	"zh_female_tianxinxiaomei_emo_v2_mars_bigtts": {},
	"zh_female_gaolengyujie_emo_v2_mars_bigtts":   {},
}

// emotionParameters 根据音色与语气分析结果计算TTS情绪参数。
func emotionParameters(voice string, decision tone.Decision) (label string, scale float32, ok bool) {
	if decision.Emotion == tone.Neutral || decision.Score <= 0 {
		return "", 0, false
	}
	if !supportsEmotion(voice) {
		return "", 0, false
	}

	scale = decision.Scale
	if scale <= 0 {
		scale = 3
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}
	return string(decision.Emotion), scale, true
}

func supportsEmotion(voice string) bool {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if normalized == "" {
		return false
	}
	if _, ok := emotionVoiceWhitelist[normalized]; ok {
		return true
	}
	return strings.Contains(normalized, "_emo_")
}

// NormalizeVoiceAlias 将别名映射为火山引擎的真实音色 ID。
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return ""
	}
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

var voiceAliases = map[string]string{
	"verdant":          "en_female_skye_emo_v2_mars_bigtts",
	"en_default":       "en_female_amy_jupiter_bigtts",
	"en_warm":          "en_female_candice_emo_v2_mars_bigtts",
	"zh_default":       "zh_female_vv_uranus_bigtts",
	"multi_default":    "multi_female_maomao_conversation_wvae_bigtts",
	"garden-assistant": "en_female_skye_emo_v2_mars_bigtts",
}
