package recipe

import (
	"fmt"
	"strings"
	"time"
)

// Ingredient is a single line of the shopping list.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity,omitempty"`
}

// Step is one instruction in cooking order. DurationHint, when set, tells the
// agent roughly how long the step takes so it can pace the conversation.
type Step struct {
	Text         string        `json:"text"`
	DurationHint time.Duration `json:"duration_hint,omitempty"`
}

// Recipe is the scripted content a voice session cooks along to.
type Recipe struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Servings    int          `json:"servings"`
	TotalTime   time.Duration `json:"total_time,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
}

// SystemInstructions renders the spoken-agent prompt for this recipe. The
// agent receives the full script up front; it never needs to fetch anything
// mid-session.
func (r Recipe) SystemInstructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a calm, encouraging cooking guide. You are helping the user cook %s", r.Title)
	if r.Servings > 0 {
		fmt.Fprintf(&b, " (serves %d)", r.Servings)
	}
	b.WriteString(".\n\n")

	if r.Description != "" {
		b.WriteString(r.Description)
		b.WriteString("\n\n")
	}

	b.WriteString("Ingredients:\n")
	for _, ing := range r.Ingredients {
		b.WriteString("- ")
		if ing.Quantity != "" {
			b.WriteString(ing.Quantity)
			b.WriteString(" ")
		}
		b.WriteString(ing.Name)
		b.WriteString("\n")
	}

	b.WriteString("\nSteps, in order:\n")
	for i, step := range r.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, step.Text)
		if step.DurationHint > 0 {
			fmt.Fprintf(&b, " (about %s)", formatDuration(step.DurationHint))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nGuide one step at a time. Wait for the user to say they are ready before moving on. ")
	b.WriteString("Answer substitution and technique questions briefly, then return to the current step. ")
	b.WriteString("Keep answers short; the user's hands are busy.")
	return b.String()
}

// OpeningLine is the agent's first utterance when the session connects.
func (r Recipe) OpeningLine() string {
	return fmt.Sprintf("Hi! Ready to cook %s together? Let's check the ingredients first.", r.Title)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	m := int(d.Round(time.Minute).Minutes())
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
