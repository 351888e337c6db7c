// Package tool defines the fixed set of tools the model may invoke and the
// patch-proposal protocol for the one tool that executes server-side.
package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Name identifies a tool. The set is closed: adding a tool means adding a
// constant here and a case to every exhaustive switch, which the compiler and
// the registry construction check enforce.
type Name string

const (
	ListFiles         Name = "listFiles"
	ReadFile          Name = "readFile"
	CreateFile        Name = "createFile"
	CreateFolder      Name = "createFolder"
	RunCommand        Name = "runCommand"
	EditFileWithPatch Name = "editFileWithPatch"
)

// AllNames returns the closed, ordered set of tool names.
func AllNames() []Name {
	return []Name{ListFiles, ReadFile, CreateFile, CreateFolder, RunCommand, EditFileWithPatch}
}

// Valid reports whether n is one of the declared tools.
func (n Name) Valid() bool {
	switch n {
	case ListFiles, ReadFile, CreateFile, CreateFolder, RunCommand, EditFileWithPatch:
		return true
	}
	return false
}

// Declaration describes a tool to the model.
type Declaration struct {
	Name        Name            `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`

	// ServerExecuted marks tools the orchestrator resolves in-turn. All
	// others are relayed to the caller's execution environment untouched.
	ServerExecuted bool `json:"serverExecuted"`
}

// Result is the outcome of a server-side tool execution.
type Result struct {
	// Output is the model-visible text appended to the transcript.
	Output string `json:"output"`

	// Proposal is set by editFileWithPatch and relayed to the caller.
	Proposal *PatchProposal `json:"proposal,omitempty"`
}

// ErrUnknownTool is returned by Dispatch for names outside the closed set.
var ErrUnknownTool = errors.New("unknown tool")

// ErrNotServerExecuted is returned by Dispatch for declared tools whose
// execution belongs to the caller. The orchestrator must relay such calls,
// never fabricate a result for them.
var ErrNotServerExecuted = errors.New("tool is not executed server-side")

// FieldViolation names one schema field the input failed to satisfy.
type FieldViolation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// SchemaViolationError reports every input-schema violation of a tool call.
type SchemaViolationError struct {
	Tool       Name
	Violations []FieldViolation
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Reason)
	}
	return fmt.Sprintf("input for %s violates schema: %s", e.Tool, strings.Join(parts, "; "))
}
