package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	"github.com/zhouzirui/z-tavern/relay/internal/model/chat"
)

// DefaultGuidelines are appended to every persona prompt.
var DefaultGuidelines = []string{
	"Stay in character; never break the fourth wall.",
	"Always respond in the user’s language.",
	"Keep responses ≤70 words.",
	"Never reveal you're an AI or language model.",
	"Politely address unethical/harmful inputs; condemn repeated offenses.",
	"Politely refuse inappropriate questions.",
}

// BuildPersonaPrompt renders the opening system message for a character.
func BuildPersonaPrompt(c character.Character, guidelines []string) chat.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", c.Name)
	fmt.Fprintf(&b, "Your Visual Description: %s\n", c.VisualDescription)
	fmt.Fprintf(&b, "Your Personality: %s\n", c.Personality)
	fmt.Fprintf(&b, "Roleplay Behavior Examples: %s.", c.RoleplayExamples)

	if len(guidelines) > 0 {
		b.WriteString("\nGuidelines:")
		for i, g := range guidelines {
			fmt.Fprintf(&b, "\n%d. %s", i+1, g)
		}
	}

	return chat.SystemMessage(b.String())
}
