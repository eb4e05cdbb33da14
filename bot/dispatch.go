package bot

import (
	"fmt"
	"strings"
)

// aiPrefix triggers the AI reply path.
const aiPrefix = "!ai "

// MatchKind tags the outcome of parsing one chat line.
type MatchKind int

const (
	// MatchNone means the message is not a command.
	MatchNone MatchKind = iota
	// MatchBuiltin is a fixed command with a templated reply; bypasses
	// cooldown and authorization.
	MatchBuiltin
	// MatchAI is a candidate AI prompt, still subject to toggle and cooldown.
	MatchAI
)

// Match is the result of parsing one inbound chat line. It lives only for the
// duration of handling that message.
type Match struct {
	Kind    MatchKind
	Command string
	// Reply is the built-in reply text (MatchBuiltin only).
	Reply string
	// Prompt is the trimmed AI prompt (MatchAI only, never empty).
	Prompt string
}

// MatchMessage parses one chat line against the fixed commands and the AI
// trigger prefix. An AI trigger with an empty remainder yields MatchNone: the
// message is silently dropped rather than answered with an error.
func MatchMessage(sender, text string) Match {
	lower := strings.ToLower(text)

	switch lower {
	case "!clip":
		return Match{Kind: MatchBuiltin, Command: "clip", Reply: fmt.Sprintf("@%s made a clip! 🎬", sender)}
	case "!shoutout":
		return Match{Kind: MatchBuiltin, Command: "shoutout", Reply: fmt.Sprintf("Shoutout to @%s! 🌟", sender)}
	}

	if strings.HasPrefix(lower, aiPrefix) {
		prompt := strings.TrimSpace(text[len(aiPrefix):])
		if prompt == "" {
			return Match{Kind: MatchNone}
		}
		return Match{Kind: MatchAI, Command: "ai", Prompt: prompt}
	}

	return Match{Kind: MatchNone}
}
