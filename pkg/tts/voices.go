package tts

import "strings"

// ElevenLabsVoices maps friendly preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"charlotte": "XB0fDUnXU5powFXDhCwa", // British female, warm
	"aria":      "9BWtsMINqrJLrRacOk9x", // American female, expressive
	"sarah":     "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"lily":      "pFZP5JQG7iQjIQuC4Bku", // British female, warm
	"rachel":    "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"adam":      "pNInz6obpgDQGcFmaJgB", // American male, deep
	"josh":      "TxGEqnHWrfWFTfGW9XjX", // American male, deep
}

// DefaultElevenLabsVoice is the preset used when nothing is configured.
const DefaultElevenLabsVoice = "charlotte"

// ResolveElevenLabsVoice returns the voice ID for a preset name, or the
// input unchanged when it is already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// IsElevenLabsPreset reports whether name is a known preset.
func IsElevenLabsPreset(name string) bool {
	_, ok := ElevenLabsVoices[strings.ToLower(name)]
	return ok
}

// GoogleVoices maps BCP-47 codes to the Cloud TTS voice used when no
// per-language override is configured. Languages not listed fall back to
// the service's neutral-gender default.
var GoogleVoices = map[string]string{
	"ja-JP": "ja-JP-Neural2-B",
	"en-US": "en-US-Neural2-F",
	"en-GB": "en-GB-Neural2-A",
}

// languageCode maps a session language to the BCP-47 code synthesis
// backends want. Tags that already carry a region pass through.
func languageCode(language string) string {
	switch strings.ToLower(language) {
	case "ja":
		return "ja-JP"
	case "en":
		return "en-US"
	}
	if strings.Contains(language, "-") {
		return language
	}
	return "en-US"
}

// iso639 reduces a language tag to its two-letter primary subtag.
func iso639(language string) string {
	return strings.ToLower(strings.SplitN(language, "-", 2)[0])
}
