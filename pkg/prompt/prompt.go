// Package prompt assembles the system instructions sent with every turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/minhyannv/mcp-chat-go/pkg/protocol"
)

// DefaultInstructions is the base system message of a chat session.
const DefaultInstructions = "You are a helpful AI assistant with access to various information tools. " +
	"You can answer questions about anything users ask and help with various tasks. " +
	"Use the available tools to provide accurate and up to date information."

// BuildSystemPrompt constructs the system prompt, appending a catalogue of
// the discovered tools. Blank base text selects DefaultInstructions.
func BuildSystemPrompt(base string, tools []protocol.Tool) string {
	var sb strings.Builder
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultInstructions
	}
	sb.WriteString(base)

	if md := ToPromptMarkdown(tools); md != "" {
		sb.WriteString("\n\n")
		sb.WriteString(md)
	}

	return strings.TrimSpace(sb.String())
}

// ToPromptMarkdown renders a markdown listing of available tools.
func ToPromptMarkdown(tools []protocol.Tool) string {
	if len(tools) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	sb.WriteString("Call a tool when it can answer more accurately than memory. Tool results are JSON.\n\n")

	for _, tool := range tools {
		name := sanitizeMarkdown(tool.Name)
		desc := sanitizeMarkdown(tool.Description)
		if desc == "" {
			desc = "No description provided."
		}
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", name, desc))
		if server := sanitizeMarkdown(tool.Server); server != "" {
			sb.WriteString(fmt.Sprintf("  - Server: %s\n", server))
		}
	}

	return strings.TrimSpace(sb.String())
}

// sanitizeMarkdown keeps markdown fields single-line and trimmed.
func sanitizeMarkdown(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.TrimSpace(value)
}
