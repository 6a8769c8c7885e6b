package chat

import (
	"regexp"
	"strings"
)

// Markdown constructs that TTS engines would otherwise read aloud.
// Double-marker forms run before single-marker forms.
var (
	reCodeFence     = regexp.MustCompile("```[\\s\\S]*?```")
	reInlineCode    = regexp.MustCompile("`([^`]+)`")
	reBold          = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBoldUnder     = regexp.MustCompile(`__([^_]+)__`)
	reItalic        = regexp.MustCompile(`\*([^*]+)\*`)
	reItalicUnder   = regexp.MustCompile(`_([^_]+)_`)
	reHeading       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reStrikethrough = regexp.MustCompile(`~~([^~]+)~~`)
	reLink          = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reBlankLines    = regexp.MustCompile(`\n{2,}`)
	reSpaces        = regexp.MustCompile(`[ \t]+`)
)

// StripMarkdown removes markdown formatting so synthesized speech does not
// read asterisks, backticks, or link targets aloud. Code fences are dropped
// entirely; inline formatting keeps its content. Empty or whitespace-only
// input is returned unchanged.
func StripMarkdown(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	out := text
	out = reCodeFence.ReplaceAllString(out, " ")
	out = reInlineCode.ReplaceAllString(out, "$1")
	out = reBold.ReplaceAllString(out, "$1")
	out = reBoldUnder.ReplaceAllString(out, "$1")
	out = reItalic.ReplaceAllString(out, "$1")
	out = reItalicUnder.ReplaceAllString(out, "$1")
	out = reHeading.ReplaceAllString(out, "")
	out = reStrikethrough.ReplaceAllString(out, "$1")
	out = reLink.ReplaceAllString(out, "$1")
	out = reBlankLines.ReplaceAllString(out, "\n")
	out = reSpaces.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
