package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"
)

const listFilesDescription = `Lists files and folders in a directory of the user's workspace.

The path is relative to the workspace root; omit it to list the root.`

const readFileDescription = `Reads a file from the user's workspace and returns its full content.`

const createFileDescription = `Creates a new file in the user's workspace with the given content.

Fails if the file already exists; use editFileWithPatch to change existing files.`

const createFolderDescription = `Creates a new folder (including missing parents) in the user's workspace.`

const runCommandDescription = `Runs a shell command in the user's workspace and returns its output.

Include a one-line description of what the command does.`

const editFileWithPatchDescription = `Proposes an edit to an existing file as a unified-diff patch.

The patch is NOT applied: it is returned to the user for review and must be
approved before taking effect. Requirements:
- diff must be valid unified-diff text with --- a/<path> and +++ b/<path>
  headers and @@ hunk headers
- keep at least 3 lines of context around each change
- explanation must describe the change in plain language`

// Registry holds the fixed tool declarations and dispatches server-side
// executions. It is immutable after construction and safe for concurrent use.
type Registry struct {
	declarations []Declaration
	schemas      map[Name]*gojsonschema.Schema
}

// NewRegistry builds the registry with the closed set of tool declarations.
// It panics on duplicate names or invalid schemas: both are programmer
// errors, caught the first time the process starts.
func NewRegistry() *Registry {
	decls := []Declaration{
		{
			Name:        ListFiles,
			Description: listFilesDescription,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Directory to list, relative to the workspace root"}
				}
			}`),
		},
		{
			Name:        ReadFile,
			Description: readFileDescription,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1, "description": "File to read, relative to the workspace root"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        CreateFile,
			Description: createFileDescription,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1, "description": "Path of the file to create"},
					"content": {"type": "string", "description": "Initial file content"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        CreateFolder,
			Description: createFolderDescription,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1, "description": "Path of the folder to create"}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        RunCommand,
			Description: runCommandDescription,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "minLength": 1, "description": "The command to run"},
					"description": {"type": "string", "description": "One-line description of what the command does"}
				},
				"required": ["command"]
			}`),
		},
		{
			Name:           EditFileWithPatch,
			Description:    editFileWithPatchDescription,
			ServerExecuted: true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "minLength": 1, "description": "Path of the file the patch applies to"},
					"diff": {"type": "string", "minLength": 1, "description": "Unified-diff text with at least 3 context lines per change"},
					"explanation": {"type": "string", "minLength": 1, "description": "Plain-language explanation of the change"}
				},
				"required": ["path", "diff", "explanation"]
			}`),
		},
	}

	schemas := make(map[Name]*gojsonschema.Schema, len(decls))
	for _, d := range decls {
		if !d.Name.Valid() {
			panic(fmt.Sprintf("tool: declaration for undeclared name %q", d.Name))
		}
		if _, dup := schemas[d.Name]; dup {
			panic(fmt.Sprintf("tool: duplicate declaration %q", d.Name))
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(d.InputSchema))
		if err != nil {
			panic(fmt.Sprintf("tool: invalid input schema for %q: %v", d.Name, err))
		}
		schemas[d.Name] = s
	}

	return &Registry{declarations: decls, schemas: schemas}
}

// Declarations returns the ordered tool declarations.
func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, len(r.declarations))
	copy(out, r.declarations)
	return out
}

// Get returns the declaration for name.
func (r *Registry) Get(name Name) (Declaration, bool) {
	for _, d := range r.declarations {
		if d.Name == name {
			return d, true
		}
	}
	return Declaration{}, false
}

// Dispatch validates input against the tool's declared schema and runs the
// tool's server-side executor. Executorless tools fail with
// ErrNotServerExecuted; the caller is responsible for relaying those calls.
func (r *Registry) Dispatch(ctx context.Context, name Name, input json.RawMessage) (*Result, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := r.validateInput(name, input); err != nil {
		return nil, err
	}

	// Exhaustive over the closed set.
	switch name {
	case EditFileWithPatch:
		return executePatch(ctx, input)
	case ListFiles, ReadFile, CreateFile, CreateFolder, RunCommand:
		return nil, fmt.Errorf("%w: %s", ErrNotServerExecuted, name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

// validateInput checks input against the declared schema, collecting every
// violated field rather than stopping at the first.
func (r *Registry) validateInput(name Name, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	result, err := r.schemas[name].Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return &SchemaViolationError{
			Tool:       name,
			Violations: []FieldViolation{{Field: "(input)", Reason: "not a JSON object: " + err.Error()}},
		}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]FieldViolation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, FieldViolation{Field: re.Field(), Reason: re.Description()})
	}
	return &SchemaViolationError{Tool: name, Violations: violations}
}

// ToolInfos converts the declarations to the model layer's tool format.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.declarations))
	for _, d := range r.declarations {
		params := parseJSONSchemaToParams(d.InputSchema)
		infos = append(infos, &schema.ToolInfo{
			Name:        string(d.Name),
			Desc:        d.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}
