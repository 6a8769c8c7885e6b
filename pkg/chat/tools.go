package chat

import (
	"context"
	"strings"
)

// EndConversationToolName is the tool the model calls to hang up.
const EndConversationToolName = "end_conversation"

// maxToolRounds bounds the request/tool-result loop in CompleteWithTools.
const maxToolRounds = 5

// toolLimitFallback is returned when the model never produces plain content.
const toolLimitFallback = "I'm sorry, I hit a limit. Please try again."

// Localized tool descriptions. Conservative on purpose: speech recognition
// can mishear, so the model should only call this on unambiguous intent.
var endConversationDescriptions = map[string]string{
	"ja": "Call this ONLY when the user unambiguously says they want to end (e.g. さようなら、ありがとうございました、以上です、もう結構です). Speech recognition can mishear: if the phrase is short or could be a misheard question, do NOT call this—respond normally. When calling: reply with a brief thank you in Japanese, then call this tool.",
	"en": "Call this ONLY when the user unambiguously says they want to end (e.g. goodbye, that's all for now, I'm done thanks, no more questions). Speech recognition can mishear: if the phrase is short or could be a misheard question, do NOT call this—respond normally. When calling: reply with a brief thank you in English, then call this tool.",
}

// Localized goodbye used when the model calls end_conversation but returns
// no content of its own.
var endConversationDefaults = map[string]string{
	"ja": "お話しできてありがとうございました。またね。",
	"en": "Thank you for talking with me. Goodbye!",
}

// EndConversationTool returns the end_conversation tool with its
// description in the given language ("ja" or "en", default English).
func EndConversationTool(lang string) Tool {
	desc, ok := endConversationDescriptions[lang]
	if !ok {
		desc = endConversationDescriptions["en"]
	}
	return NewTool(EndConversationToolName, desc, map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	})
}

func endConversationDefault(lang string) string {
	if msg, ok := endConversationDefaults[lang]; ok {
		return msg
	}
	return endConversationDefaults["en"]
}

// CompleteWithTools runs a chat completion with the end_conversation tool
// attached, resolving tool calls until the model produces plain content or
// the round limit is hit. It returns the final content and whether the
// model asked to end the conversation.
func CompleteWithTools(ctx context.Context, p Provider, messages []Message, lang string) (string, bool, error) {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)

	tools := []Tool{EndConversationTool(lang)}
	ended := false

	var content string
	for round := 0; round < maxToolRounds; round++ {
		resp, err := p.Chat(ctx, &ChatRequest{
			Messages:   msgs,
			Tools:      tools,
			ToolChoice: "auto",
		})
		if err != nil {
			return "", false, err
		}

		content = strings.TrimSpace(resp.Message.Content)
		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			if ended && content == "" {
				content = endConversationDefault(lang)
			}
			return content, ended, nil
		}

		msgs = append(msgs, Message{
			Role:      RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})
		for _, tc := range calls {
			switch tc.Name {
			case EndConversationToolName:
				ended = true
				msgs = append(msgs, NewToolMessage(tc.ID, "ok"))
			default:
				msgs = append(msgs, NewToolMessage(tc.ID, "Unknown tool."))
			}
		}
	}

	// Round limit reached; fall back to the last content the model gave us.
	if ended && content == "" {
		content = endConversationDefault(lang)
	}
	if content == "" {
		content = toolLimitFallback
	}
	return content, ended, nil
}
