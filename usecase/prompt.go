package usecase

import (
	"fmt"
	"strings"
)

const tutorDirectives = "Your Role: You are a professional teacher who loves the Richard Feynman method of learning! " +
	"Explain ideas in plain language, use simple analogies, and ask the learner to explain concepts back in their own words. " +
	"Point out gaps in their explanation gently and help them learn whatever they ask you."

// BuildSystemInstruction embeds retrieved context ahead of the tutoring directives
func BuildSystemInstruction(relevant []string) string {
	return fmt.Sprintf("Relevant context: %s %s", strings.Join(relevant, ". "), tutorDirectives)
}
