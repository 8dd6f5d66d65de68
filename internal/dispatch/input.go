// Package dispatch turns a chat request into a paced reply: it builds the
// prompt, calls the completion provider with bounded retries, applies block
// directives found in the reply, records the reply and emits it in segments.
package dispatch

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// PartKind classifies one piece of an inbound message.
type PartKind int

const (
	PartText PartKind = iota
	PartImage
	PartMention
)

// Part is one piece of an inbound message. For images Value is the caption
// text, for mentions the mentioned user id.
type Part struct {
	Kind  PartKind
	Value string
}

// Quote is the message the input replies to.
type Quote struct {
	Time     time.Time
	UserID   string
	UserName string
	Parts    []Part
}

// Input is the current message of a chat request.
type Input struct {
	Parts []Part
	Quote *Quote
}

// Render flattens the input into prompt text: plain text as-is, images and
// mentions as bracketed placeholders, then the quoted message if any.
func (in Input) Render(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	for _, p := range in.Parts {
		switch p.Kind {
		case PartText:
			b.WriteString(p.Value)
		case PartImage:
			fmt.Fprintf(&b, " [image: %s]", p.Value)
		case PartMention:
			fmt.Fprintf(&b, "[at:%s]", p.Value)
		}
	}

	if q := in.Quote; q != nil {
		who := fmt.Sprintf("%s %s (%s)", q.Time.In(loc).Format(timeLayout), q.UserName, q.UserID)
		for _, p := range q.Parts {
			switch p.Kind {
			case PartText:
				fmt.Fprintf(&b, " [quoted text: %s: %s]", who, p.Value)
			case PartImage:
				fmt.Fprintf(&b, " [quoted image: %s: %s]", who, p.Value)
			case PartMention:
				fmt.Fprintf(&b, "[at:%s]", p.Value)
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// PromptParams are the pieces of a completion prompt.
type PromptParams struct {
	History  []string
	Persona  string
	UserID   string
	UserName string
	Input    string
}

// BuildPrompt lays out history, persona and the current message in the
// order the model sees them.
func BuildPrompt(p PromptParams) string {
	var b strings.Builder
	b.WriteString("Chat history of this conversation:\n----------\n")
	b.WriteString(strings.Join(p.History, "\n"))
	b.WriteString("\n----------\n")
	b.WriteString(strings.TrimSpace(p.Persona))
	fmt.Fprintf(&b, "\nThe current user is %s, id %s. Make sure you address the right person.\n----------\n", p.UserName, p.UserID)
	fmt.Fprintf(&b, "User %s (id %s) says:\n|%s|\n", p.UserName, p.UserID, p.Input)
	return b.String()
}
