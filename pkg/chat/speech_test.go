package chat_test

import (
	"testing"

	"github.com/teslashibe/go-voiceline/pkg/chat"
)

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello there.", "Hello there."},
		{"bold", "That is **very** good", "That is very good"},
		{"bold underscore", "That is __very__ good", "That is very good"},
		{"italic", "a *fine* day", "a fine day"},
		{"italic underscore", "a _fine_ day", "a fine day"},
		{"inline code keeps content", "run `go test` now", "run go test now"},
		{"code fence dropped", "x ```a = 1``` y", "x y"},
		{"heading marker removed", "# Title\nbody", "Title\nbody"},
		{"deep heading", "### Section\ntext", "Section\ntext"},
		{"strikethrough", "a ~~gone~~ b", "a gone b"},
		{"link keeps label", "see [the docs](https://example.com/x) here", "see the docs here"},
		{"blank lines collapse", "one\n\n\ntwo", "one\ntwo"},
		{"runs of spaces collapse", "a  \t b", "a b"},
		{"surrounding whitespace trimmed", "  hello  ", "hello"},
		{"japanese untouched", "こんにちは。今日は良い天気ですね。", "こんにちは。今日は良い天気ですね。"},
		{
			"mixed formatting",
			"## Answer\n\nUse **the flag** like `this`: see [docs](http://e.com).",
			"Answer\nUse the flag like this: see docs.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := chat.StripMarkdown(tc.in); got != tc.want {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripMarkdownEmptyInput(t *testing.T) {
	if got := chat.StripMarkdown(""); got != "" {
		t.Errorf("empty input = %q, want empty", got)
	}
	// Whitespace-only input passes through unchanged.
	if got := chat.StripMarkdown("   "); got != "   " {
		t.Errorf("whitespace input = %q, want unchanged", got)
	}
}
