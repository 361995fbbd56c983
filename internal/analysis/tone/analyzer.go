// Package tone picks a speaking emotion for a spoken reply.
package tone

import "strings"

// Label 表示TTS可以接受的情绪标签。
type Label string

const (
	Neutral  Label = "neutral"
	Happy    Label = "happy"
	Tender   Label = "tender"
	Comfort  Label = "comfort"
	Magnetic Label = "magnetic"
)

// Decision 给出情绪识别结果以及推荐情绪强度。
type Decision struct {
	Emotion Label
	Scale   float32
	Score   int
}

type bucket struct {
	label    Label
	keywords []string
}

// Buckets are scanned in order so ties resolve deterministically.
var buckets = []bucket{
	{Magnetic, []string{
		"immediately", "urgent", "as soon as possible", "severe", "serious", " rot", "blight",
		"fungal", "infestation", "isolate", "remove the affected", "toxic", "important", "must",
	}},
	{Comfort, []string{
		"don't worry", "do not worry", "it's okay", "it is okay", "common", "recover", "bounce back",
		"perfectly normal", "happens to", "sorry", "saveable", "can be saved",
	}},
	{Happy, []string{
		"healthy", "thriving", "great", "congratulations", "well done", "beautiful", "lush",
		"vibrant", "good news", "looks happy", "excellent", "wonderful",
	}},
	{Tender, []string{
		"gently", "gentle", "slowly", "softly", "patience", "careful", "light touch", "mist",
	}},
}

// worry words in the user's message steer a neutral reply toward comfort.
var worryWords = []string{
	"dying", "dead", "worried", "help", "wilting", "yellow", "brown", "drooping", "sad", "losing",
}

// Analyze 根据用户话语与回复文本推断应使用的语音情绪。
func Analyze(userUtterance, reply string) Decision {
	best := scoreText(reply)

	if best.Score == 0 && containsAny(strings.ToLower(userUtterance), worryWords) {
		best = Decision{Emotion: Comfort, Score: 3}
	}

	if best.Score == 0 {
		return Decision{Emotion: Neutral, Scale: 3}
	}

	scale := 2 + float32(best.Score)/4
	switch best.Emotion {
	case Magnetic:
		scale = minScale(scale, 4)
	case Comfort, Tender:
		scale = minScale(scale, 3.5)
	}
	if scale < 1 {
		scale = 1
	}
	if scale > 5 {
		scale = 5
	}

	best.Scale = scale
	return best
}

func scoreText(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Decision{Emotion: Neutral}
	}

	best := Decision{Emotion: Neutral}
	for _, b := range buckets {
		score := 0
		for _, word := range b.keywords {
			if strings.Contains(normalized, word) {
				score += 3
			}
		}
		if b.label == Happy {
			score += strings.Count(text, "!")
		}
		if score > best.Score {
			best = Decision{Emotion: b.label, Score: score}
		}
	}
	return best
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func minScale(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
