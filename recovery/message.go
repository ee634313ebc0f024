package recovery

import (
	"fmt"
	"strings"
)

// Category is the coarse failure category used to pick a user-facing
// message. Raw provider errors never reach the user verbatim.
type Category string

const (
	CategoryTimeout      Category = "timeout"
	CategoryRateLimit    Category = "rate_limit"
	CategoryConnection   Category = "connection"
	CategoryPermission   Category = "permission"
	CategoryNotFound     Category = "not_found"
	CategoryInvalidInput Category = "invalid_input"
	CategoryGeneric      Category = "generic"
)

var categoryPatterns = []struct {
	category Category
	patterns []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "429"}},
	{CategoryConnection, []string{"connection reset", "connection refused", "broken pipe", "service unavailable", "network"}},
	{CategoryPermission, []string{"permission denied", "forbidden", "access denied", "403"}},
	{CategoryNotFound, []string{"not found", "does not exist", "404", "no such"}},
	{CategoryInvalidInput, []string{"invalid", "bad request", "validation", "malformed", "400"}},
}

// Categorize maps err to a message category by substring matching.
func Categorize(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range categoryPatterns {
		for _, pattern := range entry.patterns {
			if strings.Contains(msg, pattern) {
				return entry.category
			}
		}
	}
	return CategoryGeneric
}

// UserMessage synthesizes the sentence shown when a tool fails terminally
// (or exhausts its retries). It names the capability and the kind of
// failure without leaking the provider's error text.
func UserMessage(toolName string, err error) string {
	name := displayName(toolName)
	switch Categorize(err) {
	case CategoryTimeout:
		return fmt.Sprintf("The %s action took too long to finish. Please try again in a moment.", name)
	case CategoryRateLimit:
		return fmt.Sprintf("The %s action was rate limited. Please wait a little and try again.", name)
	case CategoryConnection:
		return fmt.Sprintf("I couldn't reach the service behind the %s action. Please try again shortly.", name)
	case CategoryPermission:
		return fmt.Sprintf("I don't have permission to perform the %s action with the current account.", name)
	case CategoryNotFound:
		return fmt.Sprintf("The %s action couldn't find what it was asked for. Please double-check the details.", name)
	case CategoryInvalidInput:
		return fmt.Sprintf("The %s action was given input it couldn't accept. Please rephrase or correct the request.", name)
	default:
		return fmt.Sprintf("The %s action failed unexpectedly. Please try again, or rephrase the request.", name)
	}
}

// ConnectionMessage synthesizes the sentence shown when a toolkit needs
// authorization, pointing the user at the connection link.
func ConnectionMessage(toolkit, link string) string {
	return fmt.Sprintf("Your %s account isn't connected yet. Please connect it here, then ask me again: %s", displayName(toolkit), link)
}

// displayName turns TOOL_NAMES and toolkit slugs into readable words.
func displayName(name string) string {
	if name == "" {
		return "requested"
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}
