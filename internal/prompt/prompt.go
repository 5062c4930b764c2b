package prompt

import (
	"fmt"
	"strings"
)

// Role selects which closing instructions are appended to a prompt.
type Role string

const (
	RoleInitial Role = "initial"
	RoleReply   Role = "reply"
)

// NoPreviousMessage stands in for the opponent's text on the opening turn.
const NoPreviousMessage = "(no previous message; you are starting the discussion)"

// Params carries everything a single turn's instruction depends on.
type Params struct {
	Persona      string
	Opponent     string
	Role         Role
	Topic        string
	LastMessage  string
	Interjection string
}

// Build renders the instruction sent to a backend for one turn. It never
// fails: blank optional fields are treated as absent.
func Build(p Params) string {
	last := p.LastMessage
	if strings.TrimSpace(last) == "" {
		last = NoPreviousMessage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are impersonating the expert: %s.\n", p.Persona)
	fmt.Fprintf(&b, "Topic: \"%s\".\n\n", p.Topic)
	b.WriteString("Rules:\n")
	b.WriteString("- You may only make claims supported by papers you have authored or papers you explicitly reference.\n")
	b.WriteString("- Every factual statement must include a citation to a real paper.\n")
	b.WriteString("- If you cannot support a claim with a paper, explicitly say so.\n")
	fmt.Fprintf(&b, "- Acknowledge the other expert, %s, by name and respond to their last message.\n", p.Opponent)
	b.WriteString("- Maintain a concise, scholarly tone.\n\n")
	b.WriteString("The other expert's last message was:\n")
	fmt.Fprintf(&b, "\"%s\"\n\n", last)

	if p.Role == RoleInitial {
		b.WriteString("Begin the discussion by:\n")
		b.WriteString("- Stating your perspective on the topic.\n")
		fmt.Fprintf(&b, "- Acknowledging %s.\n", p.Opponent)
		fmt.Fprintf(&b, "- Asking %s for their input.\n", p.Opponent)
	} else {
		b.WriteString("Respond now, taking into account both the other expert's message and your own expertise.\n")
	}

	if text := strings.TrimSpace(p.Interjection); text != "" {
		b.WriteString("\nThe user adds the following question/comment that you must address explicitly:\n")
		fmt.Fprintf(&b, "\"%s\"\n", text)
	}
	return b.String()
}
