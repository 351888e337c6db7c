package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patchDiff = `--- a/src/a.ts
+++ b/src/a.ts
@@ -1,3 +1,4 @@
 function f() {
+  console.log("called");
   return 1;
 }
`

func patchInput(t *testing.T, path, diff, explanation string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(PatchInput{Path: path, Diff: diff, Explanation: explanation})
	require.NoError(t, err)
	return raw
}

func TestPatchExecutor_ReturnsPendingProposal(t *testing.T) {
	registry := NewRegistry()

	input := patchInput(t, "/src/a.ts", patchDiff, "Log every call to f for debugging.")
	result, err := registry.Dispatch(context.Background(), EditFileWithPatch, input)
	require.NoError(t, err)
	require.NotNil(t, result.Proposal)

	p := result.Proposal
	assert.Equal(t, StatusPendingApproval, p.Status)
	assert.Equal(t, "/src/a.ts", p.Path)
	assert.Equal(t, patchDiff, p.Diff)
	assert.NotEmpty(t, p.Explanation)
	assert.Equal(t, 1, p.Additions)
	assert.Equal(t, 0, p.Deletions)
	assert.Contains(t, p.Message, "/src/a.ts")
	assert.Contains(t, p.Message, "approval")

	// The model-visible output is the proposal itself.
	var echoed PatchProposal
	require.NoError(t, json.Unmarshal([]byte(result.Output), &echoed))
	assert.Equal(t, *p, echoed)
}

func TestPatchExecutor_IsDeterministic(t *testing.T) {
	registry := NewRegistry()
	input := patchInput(t, "/src/a.ts", patchDiff, "Log calls.")

	first, err := registry.Dispatch(context.Background(), EditFileWithPatch, input)
	require.NoError(t, err)
	second, err := registry.Dispatch(context.Background(), EditFileWithPatch, input)
	require.NoError(t, err)

	assert.Equal(t, first.Proposal, second.Proposal)
	assert.Equal(t, first.Output, second.Output)
}

func TestPatchExecutor_IDTracksContent(t *testing.T) {
	registry := NewRegistry()

	a, err := registry.Dispatch(context.Background(), EditFileWithPatch,
		patchInput(t, "/src/a.ts", patchDiff, "Log calls."))
	require.NoError(t, err)
	b, err := registry.Dispatch(context.Background(), EditFileWithPatch,
		patchInput(t, "/src/b.ts", patchDiff, "Log calls."))
	require.NoError(t, err)

	assert.NotEqual(t, a.Proposal.ID, b.Proposal.ID)
}

func TestPatchExecutor_MalformedDiffStillProposes(t *testing.T) {
	registry := NewRegistry()

	// Not unified-diff text: a quality defect, not a protocol error.
	input := patchInput(t, "/src/a.ts", "just replace the function body", "Rewrite f.")
	result, err := registry.Dispatch(context.Background(), EditFileWithPatch, input)
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, result.Proposal.Status)
	assert.Zero(t, result.Proposal.Additions)
	assert.Zero(t, result.Proposal.Deletions)
}

func TestPatchExecutor_RequiresAllFields(t *testing.T) {
	registry := NewRegistry()

	input := patchInput(t, "/src/a.ts", patchDiff, "")
	_, err := registry.Dispatch(context.Background(), EditFileWithPatch, input)

	var sv *SchemaViolationError
	require.ErrorAs(t, err, &sv)
}
