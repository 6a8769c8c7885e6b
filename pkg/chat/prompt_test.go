package chat_test

import (
	"strings"
	"testing"

	"github.com/teslashibe/go-voiceline/pkg/chat"
)

func TestBuildSystemMessage(t *testing.T) {
	t.Setenv(chat.EnvVerbosity, "")
	t.Setenv(chat.EnvPromptTemplate, "")

	t.Run("japanese", func(t *testing.T) {
		msg := chat.BuildSystemMessage("ja", "")
		if msg.Role != chat.RoleSystem {
			t.Errorf("role = %q, want system", msg.Role)
		}
		if !strings.HasPrefix(msg.Content, "You are a helpful voice assistant.") {
			t.Errorf("unexpected prefix: %q", msg.Content)
		}
		if !strings.Contains(msg.Content, "respond only in Japanese") {
			t.Error("missing Japanese language instruction")
		}
		if !strings.Contains(msg.Content, "さようなら") {
			t.Error("missing Japanese goodbye example")
		}
	})

	t.Run("english", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", "")
		if !strings.Contains(msg.Content, "respond only in English") {
			t.Error("missing English language instruction")
		}
	})

	t.Run("unknown language falls back to english", func(t *testing.T) {
		msg := chat.BuildSystemMessage("fr", "")
		if !strings.Contains(msg.Content, "respond only in English") {
			t.Error("expected English fallback")
		}
	})

	t.Run("default verbosity is normal", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", "")
		if !strings.Contains(msg.Content, "Respond concisely.") {
			t.Error("missing normal verbosity instruction")
		}
	})

	t.Run("brief verbosity", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", chat.VerbosityBrief)
		if !strings.Contains(msg.Content, "very brief") {
			t.Error("missing brief verbosity instruction")
		}
	})

	t.Run("detailed verbosity", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", chat.VerbosityDetailed)
		if !strings.Contains(msg.Content, "longer, detailed responses") {
			t.Error("missing detailed verbosity instruction")
		}
	})

	t.Run("unknown verbosity falls back to normal", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", "chatty")
		if !strings.Contains(msg.Content, "Respond concisely.") {
			t.Error("expected normal fallback")
		}
	})

	t.Run("verbosity is case insensitive", func(t *testing.T) {
		msg := chat.BuildSystemMessage("en", "BRIEF")
		if !strings.Contains(msg.Content, "very brief") {
			t.Error("expected brief instruction for BRIEF")
		}
	})
}

func TestBuildSystemMessageEnvVerbosity(t *testing.T) {
	t.Setenv(chat.EnvPromptTemplate, "")
	t.Setenv(chat.EnvVerbosity, "brief")

	msg := chat.BuildSystemMessage("en", "")
	if !strings.Contains(msg.Content, "very brief") {
		t.Error("VOICE_VERBOSITY not applied")
	}

	// Explicit argument wins over the environment.
	msg = chat.BuildSystemMessage("en", chat.VerbosityDetailed)
	if !strings.Contains(msg.Content, "longer, detailed responses") {
		t.Error("explicit verbosity did not override env")
	}
}

func TestBuildSystemMessageTemplateOverride(t *testing.T) {
	t.Setenv(chat.EnvVerbosity, "")
	t.Setenv(chat.EnvPromptTemplate, "Custom agent. {language_instruction} {verbosity_instruction}")

	msg := chat.BuildSystemMessage("ja", chat.VerbosityBrief)
	if !strings.HasPrefix(msg.Content, "Custom agent.") {
		t.Errorf("template override not applied: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "respond only in Japanese") {
		t.Error("placeholder not substituted")
	}
	if !strings.Contains(msg.Content, "very brief") {
		t.Error("verbosity placeholder not substituted")
	}
}
