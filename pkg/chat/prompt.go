package chat

import (
	"os"
	"strings"
)

// Verbosity levels for voice responses. Shorter is better for TTS and
// phone playback; length is controlled by the prompt, not by truncation.
const (
	VerbosityBrief    = "brief"
	VerbosityNormal   = "normal"
	VerbosityDetailed = "detailed"
)

// Environment overrides for the voice system prompt.
const (
	EnvVerbosity      = "VOICE_VERBOSITY"
	EnvPromptTemplate = "VOICE_PROMPT_TEMPLATE"
)

// DefaultPromptTemplate is the voice system prompt skeleton. A custom
// template set via VOICE_PROMPT_TEMPLATE must carry the same placeholders.
const DefaultPromptTemplate = "You are a helpful voice assistant. {language_instruction} {verbosity_instruction}"

// languageInstructions tells the model which language to reply in and how
// cautious to be about ending the conversation on misheard speech.
var languageInstructions = map[string]string{
	"ja": "The user's interface language is Japanese. You must respond only in Japanese. Use Japanese for all replies, including greetings and goodbyes. Speech recognition can mishear: only end the conversation when the user clearly and unambiguously says goodbye or that they are done (e.g. さようなら、以上です). If in doubt, respond normally and do not end.",
	"en": "The user's interface language is English. You must respond only in English. Use English for all replies, including greetings and goodbyes. Speech recognition can mishear: only end the conversation when the user clearly and unambiguously says goodbye or that they are done (e.g. goodbye, that's all for now, I'm done). If in doubt, respond normally and do not end.",
}

var verbosityInstructions = map[string]string{
	VerbosityBrief:    "Keep all responses very brief: 1–2 short sentences maximum. Avoid lists or long explanations.",
	VerbosityNormal:   "Respond concisely. Prefer a few clear sentences; avoid unnecessary detail.",
	VerbosityDetailed: "You may give longer, detailed responses when helpful. Still prefer clarity over length.",
}

// BuildSystemMessage builds the system message for a voice conversation.
// lang selects the language instruction ("ja" or "en", anything else falls
// back to English). An empty verbosity falls back to VOICE_VERBOSITY, then
// to normal.
func BuildSystemMessage(lang, verbosity string) Message {
	languageInstruction, ok := languageInstructions[lang]
	if !ok {
		languageInstruction = languageInstructions["en"]
	}

	v := strings.ToLower(strings.TrimSpace(verbosity))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv(EnvVerbosity)))
	}
	verbosityInstruction, ok := verbosityInstructions[v]
	if !ok {
		verbosityInstruction = verbosityInstructions[VerbosityNormal]
	}

	template := os.Getenv(EnvPromptTemplate)
	if template == "" {
		template = DefaultPromptTemplate
	}

	content := strings.NewReplacer(
		"{language_instruction}", languageInstruction,
		"{verbosity_instruction}", verbosityInstruction,
	).Replace(template)

	return NewSystemMessage(strings.TrimSpace(content))
}
