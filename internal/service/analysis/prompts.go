package analysis

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// DefaultImageDescription is used when a photo is submitted without notes.
const DefaultImageDescription = "A user-uploaded plant image. Please identify the plant, check its health, and describe any visible issues."

const (
	defaultPlantName        = "the user's plant"
	defaultPlantDescription = "A plant from the user's history."
)

// 模板使用 FString，正文中不能出现字面量花括号。
const diagnosisSystemPrompt = `You are an expert in plant diseases. Analyze the provided image and description to detect potential diseases and provide treatment recommendations.
Respond in the following language: {language}.
Reply with one JSON object and nothing else. It has two string fields: "diagnosis" (the plant and its condition, including potential diseases) and "treatmentRecommendations" (recommended treatments for the identified problems).`

const voiceSystemPrompt = `You are a helpful AI assistant specialized in providing plant health and growth recommendations.
The user asked a question by voice. Analyze it for plant-related inquiries and provide clear, concise and actionable recommendations for improving the plant's health and growth.
Respond in the following language: {language}.
Reply with one JSON object and nothing else. It has one string field: "text" (your recommendations).`

const feedbackSystemPrompt = `You are an AI assistant designed to refine plant care recommendations based on user feedback.
You receive the original recommendation, the user's feedback, the plant name and optionally historical data about the plant. Generate an improved recommendation that takes the feedback into account.
Reply with one JSON object and nothing else. It has one string field: "improvedRecommendation".`

const reportSystemPrompt = `You are an expert in plant health and care.
Based on the provided information, generate a comprehensive health report for the plant. Consider the historical data, the description and any potential issues to provide customized recommendations for soil, fertilization, watering and disease treatment.
Reply with one JSON object and nothing else. It has three string fields: "overallHealth", "potentialIssues" and "recommendations".`

func newDiagnosisTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(diagnosisSystemPrompt),
		schema.UserMessage("Description: {description}{history}"),
	)
}

func newVoiceTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(voiceSystemPrompt),
		schema.UserMessage("Voice input ({language}): {transcript}"),
	)
}

func newFeedbackTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(feedbackSystemPrompt),
		schema.UserMessage("Original Recommendation: {recommendation}\nUser Feedback: {feedback}\nPlant Name: {plantName}{historicalData}"),
	)
}

func newReportTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(reportSystemPrompt),
		schema.UserMessage("Plant Name: {plantName}\nPlant Description: {plantDescription}\nHistorical Data: {historicalData}"),
	)
}

// optionalLine renders an optional labelled section, or nothing.
func optionalLine(label, value string) string {
	if value == "" {
		return ""
	}
	return "\n" + label + ": " + value
}
