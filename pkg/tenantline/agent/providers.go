// Package agent – providers.go assembles the system preamble from an ordered
// list of pure context providers. Providers run fresh on every turn, never
// cached: backing files (memory notes) may change between turns.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

// ContextProvider contributes one section of the system preamble as a pure
// function of the conversation and static configuration. An empty return
// omits the section.
type ContextProvider func(conv *Conversation) string

// BuildPreamble concatenates the base instructions with each provider's
// output for this turn.
func BuildPreamble(base string, providers []ContextProvider, conv *Conversation) string {
	sections := make([]string, 0, len(providers)+1)
	if base != "" {
		sections = append(sections, base)
	}
	for _, p := range providers {
		if out := p(conv); out != "" {
			sections = append(sections, out)
		}
	}
	return strings.Join(sections, "\n\n")
}

// TimeProvider reports the current time in the configured timezone.
func TimeProvider(location *time.Location) ContextProvider {
	if location == nil {
		location = time.UTC
	}
	return func(*Conversation) string {
		return "Current time: " + time.Now().In(location).Format("Monday, 2006-01-02 15:04 MST")
	}
}

// ToneProvider emits modality-specific tone guidance.
func ToneProvider() ContextProvider {
	return func(conv *Conversation) string {
		switch conv.Modality {
		case ModalitySMS:
			return "Channel: SMS. Keep replies under 300 characters, no markdown, plain sentences."
		case ModalityEmail:
			return "Channel: email. Write complete, courteous paragraphs with a greeting and sign-off."
		case ModalityWebChat:
			return "Channel: web chat. Conversational and concise; markdown is fine."
		default:
			return ""
		}
	}
}

// MemoryFileProvider reads a workspace file into the preamble. The file is
// re-read every turn so edits made between turns are always picked up; a
// missing file contributes nothing.
func MemoryFileProvider(store *memstore.Store, path string) ContextProvider {
	return func(*Conversation) string {
		result, err := store.Read(path)
		if err != nil || result.Content == "" {
			return ""
		}
		out := fmt.Sprintf("Contents of %s:\n%s", path, result.Content)
		if result.Truncated {
			out += "\n[file truncated]"
		}
		return out
	}
}

// ContactProvider identifies the counterparty when known.
func ContactProvider() ContextProvider {
	return func(conv *Conversation) string {
		if conv.ContactIdentifier == "" {
			return ""
		}
		return "You are talking to: " + conv.ContactIdentifier
	}
}
