// Package chat bridges the dashboard chat endpoint to the model
// backend, advertising the user's MCP tools in the prompt when the
// tool server is reachable and degrading to a plain completion when
// it is not.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/triforce-app/triforce/internal/logx"
)

// Tool is one capability advertised by the user's MCP server.
type Tool struct {
	Name        string
	Description string
}

// ToolSource lists the tools available to a user.
type ToolSource interface {
	ListTools(ctx context.Context, userID string) ([]Tool, error)
}

// Completer produces a model response for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Service answers chat messages. A nil tool source disables tool
// discovery entirely.
type Service struct {
	tools     ToolSource
	completer Completer
}

func NewService(tools ToolSource, completer Completer) *Service {
	return &Service{tools: tools, completer: completer}
}

// Respond generates a reply to one user message. Tool discovery
// failures are not fatal; the model is told tools are unavailable and
// answers anyway.
func (s *Service) Respond(ctx context.Context, userID, message string) (string, error) {
	var tools []Tool
	if s.tools != nil {
		listed, err := s.tools.ListTools(ctx, userID)
		if err != nil {
			logx.Warnf("chat tool discovery failed: user=%s err=%v", userID, err)
		} else {
			tools = listed
		}
	}
	return s.completer.Complete(ctx, buildPrompt(tools, message))
}

func buildPrompt(tools []Tool, message string) string {
	var b strings.Builder
	b.WriteString("You are the assistant for the Triforce dashboard. ")
	b.WriteString("Answer concisely and only about the user's connected services.\n\n")

	if len(tools) == 0 {
		b.WriteString("No tools are available right now. ")
		b.WriteString("If the user asks for an action that needs a tool, explain that tools are unavailable.\n")
	} else {
		b.WriteString("The following tools are available to the user:\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(message)
	return b.String()
}
