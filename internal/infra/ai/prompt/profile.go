package prompt

import (
	"fmt"

	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
)

// GetSystemPrompt sets the tone of the insight.
func GetSystemPrompt() string {
	return "You summarize a brief personality insight based on name, age, and description."
}

// GetUserPrompt renders the submitted profile.
func GetUserPrompt(in domain.Input) string {
	return fmt.Sprintf("Name: %s\nAge: %d\nDescription: %s", in.Name, in.Age, in.Description)
}
