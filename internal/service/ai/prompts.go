package ai

import (
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/verdantsentinel/backend/internal/model/chat"
)

// FString 模板中的花括号表示变量，提示词正文避免使用字面量花括号。
const verdantSystemPrompt = `You are Verdant, the plant-care expert inside the Verdant Sentinel app.
You help people identify plants, diagnose problems from their descriptions, and plan practical care: watering, light, soil, feeding, pests and diseases.

Rules:
- Always answer in {language}, even if earlier turns used another language.
- Keep answers short, warm and practical. Your replies may be read aloud, so avoid tables, code and long lists.
- When the user asks about the price or market value of a crop or plant, call the getMarketPrice tool and quote the returned price with its currency and unit. Never invent prices.
- If you are unsure what is wrong with a plant, say so and suggest what to check next.`

func newConversationTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(verdantSystemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{message}"),
	)
}

// historyMessages converts the newest limit turns into provider messages.
func historyMessages(turns []chat.Turn, limit int) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	start := 0
	if limit > 0 && len(turns) > limit {
		start = len(turns) - limit
	}

	history := make([]*schema.Message, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleModel:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

func languageInstruction(label, code string) string {
	if label == "" || label == code {
		return code
	}
	return fmt.Sprintf("%s (%s)", label, code)
}
