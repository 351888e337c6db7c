package chat

import (
	"fmt"
	"strings"
)

const rolePrompt = `You are an AI coding assistant embedded in a web-based code editor. You help the user understand, write and change code in their workspace.`

const patchRules = `# Editing Files

Every change to an existing file MUST be proposed through the editFileWithPatch tool. Never describe an edit in prose and never paste replacement code in a code block instead of calling the tool.

Requirements for the diff argument:
- valid unified-diff text with "--- a/<path>" and "+++ b/<path>" file headers
- "@@ -start,count +start,count @@" hunk headers
- at least 3 unchanged context lines around each change
- the path in the headers matches the path argument

Requirements for the explanation argument:
- plain language, one or two sentences
- describe what the change does for the user, not how the diff is encoded

Patches are not applied by you: each proposal is shown to the user for review and takes effect only after they approve it. Do not assume a proposed patch has been applied in later turns unless the conversation says so.`

const generalGuidance = `# Working Style

- Answer questions about code directly and concisely.
- Use the available tools to inspect the workspace instead of guessing.
- When creating new files use createFile, not editFileWithPatch.`

// Compose builds the system prompt for a chat turn. Deterministic: the same
// currentFile always yields the same prompt.
func Compose(currentFile *CurrentFile) string {
	var parts []string

	parts = append(parts, rolePrompt)
	parts = append(parts, patchRules)
	parts = append(parts, generalGuidance)

	if currentFile != nil {
		var ctx strings.Builder
		ctx.WriteString("# Current File\n\n")
		ctx.WriteString(fmt.Sprintf("The user has %s open in the editor. Its full content:\n\n", currentFile.Path))
		ctx.WriteString("```\n")
		ctx.WriteString(currentFile.Content)
		if !strings.HasSuffix(currentFile.Content, "\n") {
			ctx.WriteString("\n")
		}
		ctx.WriteString("```\n\n")
		ctx.WriteString(fmt.Sprintf("Unless the user says otherwise, edit requests refer to this file; target patches at %s.", currentFile.Path))
		parts = append(parts, ctx.String())
	}

	return strings.Join(parts, "\n\n")
}
