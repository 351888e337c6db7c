// Package chat implements the AI chat turn: request validation, system
// prompt composition and the streaming tool-call orchestration loop.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/assistd/assistd/internal/tool"
)

// Role is a chat message author role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatRequest is the validated body of a chat call.
type ChatRequest struct {
	Messages    []Message    `json:"messages"`
	CurrentFile *CurrentFile `json:"currentFile,omitempty"`
}

// Message is one entry of the conversation history.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	ToolCallID string        `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCallRef `json:"toolCalls,omitempty"`
}

// ToolCallRef is a tool invocation recorded on an assistant message.
type ToolCallRef struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// CurrentFile is the file the user has open in the editor, sent along so the
// model can ground its answer and target its patches.
type CurrentFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ValidationError reports every problem found in a request body. It is the
// only error ParseRequest returns for malformed input, so handlers can map it
// to a 400 with the full violation list.
type ValidationError struct {
	Violations []tool.FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return "invalid chat request: " + strings.Join(parts, "; ")
}

// rawRequest distinguishes absent keys from present-but-wrong ones.
type rawRequest struct {
	Messages    *json.RawMessage `json:"messages"`
	CurrentFile *json.RawMessage `json:"currentFile"`
}

type rawMessage struct {
	Role       *string         `json:"role"`
	Content    *string         `json:"content"`
	ToolCallID string          `json:"toolCallId"`
	ToolCalls  []ToolCallRef   `json:"toolCalls"`
}

type rawCurrentFile struct {
	Path    *string `json:"path"`
	Content *string `json:"content"`
}

// ParseRequest decodes and validates a chat request body. It checks the whole
// body and returns a *ValidationError listing every violation, not just the
// first, so the client can fix its request in one round trip.
func ParseRequest(body []byte) (*ChatRequest, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Violations: []tool.FieldViolation{
			{Field: "(body)", Reason: "must be a JSON object"},
		}}
	}

	var violations []tool.FieldViolation
	req := &ChatRequest{}

	switch {
	case raw.Messages == nil || string(*raw.Messages) == "null":
		violations = append(violations, tool.FieldViolation{
			Field: "messages", Reason: "is required and must be an array",
		})
	default:
		var rawMsgs []json.RawMessage
		if err := json.Unmarshal(*raw.Messages, &rawMsgs); err != nil {
			violations = append(violations, tool.FieldViolation{
				Field: "messages", Reason: "must be an array",
			})
			break
		}
		req.Messages = make([]Message, 0, len(rawMsgs))
		for i, rm := range rawMsgs {
			msg, msgViolations := parseMessage(i, rm)
			violations = append(violations, msgViolations...)
			req.Messages = append(req.Messages, msg)
		}
	}

	if raw.CurrentFile != nil && string(*raw.CurrentFile) != "null" {
		file, fileViolations := parseCurrentFile(*raw.CurrentFile)
		violations = append(violations, fileViolations...)
		req.CurrentFile = file
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return req, nil
}

func parseMessage(index int, data json.RawMessage) (Message, []tool.FieldViolation) {
	field := func(name string) string {
		return fmt.Sprintf("messages[%d].%s", index, name)
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, []tool.FieldViolation{
			{Field: fmt.Sprintf("messages[%d]", index), Reason: "must be an object"},
		}
	}

	var violations []tool.FieldViolation
	msg := Message{ToolCallID: raw.ToolCallID, ToolCalls: raw.ToolCalls}

	if raw.Role == nil {
		violations = append(violations, tool.FieldViolation{
			Field: field("role"), Reason: "is required",
		})
	} else {
		msg.Role = Role(*raw.Role)
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleTool:
		default:
			violations = append(violations, tool.FieldViolation{
				Field:  field("role"),
				Reason: fmt.Sprintf("must be one of user, assistant, tool; got %q", *raw.Role),
			})
		}
	}

	if raw.Content != nil {
		msg.Content = *raw.Content
	}

	if msg.Role == RoleTool && msg.ToolCallID == "" {
		violations = append(violations, tool.FieldViolation{
			Field: field("toolCallId"), Reason: "is required for tool messages",
		})
	}

	return msg, violations
}

func parseCurrentFile(data json.RawMessage) (*CurrentFile, []tool.FieldViolation) {
	var raw rawCurrentFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, []tool.FieldViolation{
			{Field: "currentFile", Reason: "must be an object"},
		}
	}

	var violations []tool.FieldViolation
	if raw.Path == nil {
		violations = append(violations, tool.FieldViolation{
			Field: "currentFile.path", Reason: "is required and must be a string",
		})
	}
	if raw.Content == nil {
		violations = append(violations, tool.FieldViolation{
			Field: "currentFile.content", Reason: "is required and must be a string",
		})
	}
	if len(violations) > 0 {
		return nil, violations
	}

	return &CurrentFile{Path: *raw.Path, Content: *raw.Content}, nil
}
