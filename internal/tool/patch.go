package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/assistd/assistd/internal/logging"
	"github.com/assistd/assistd/internal/unidiff"
)

// ProposalStatus is the lifecycle state of a patch proposal. This server only
// ever produces StatusPendingApproval: approval and rejection happen in the
// caller's review workflow and never flow back through this core.
type ProposalStatus string

const StatusPendingApproval ProposalStatus = "pending_approval"

// PatchProposal is an unapplied, reviewable file edit.
type PatchProposal struct {
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Diff        string         `json:"diff"`
	Explanation string         `json:"explanation"`
	Status      ProposalStatus `json:"status"`
	Additions   int            `json:"additions"`
	Deletions   int            `json:"deletions"`
	Message     string         `json:"message"`
}

// PatchInput is the editFileWithPatch tool input.
type PatchInput struct {
	Path        string `json:"path"`
	Diff        string `json:"diff"`
	Explanation string `json:"explanation"`
}

// executePatch packages the model's patch into a pending-approval proposal.
// It is pure: no file, network or process state is read or written, and the
// same input always produces the same record. The diff is never applied here.
func executePatch(_ context.Context, input json.RawMessage) (*Result, error) {
	var params PatchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	additions, deletions := 0, 0
	if parsed, err := unidiff.Parse(params.Diff); err != nil {
		// A malformed diff is a quality defect in the model output, not a
		// protocol error: the proposal still goes to the user for review.
		logging.Warn().
			Str("path", params.Path).
			Err(err).
			Msg("patch proposal diff is not well-formed unified diff")
	} else {
		additions = parsed.Additions
		deletions = parsed.Deletions
	}

	proposal := &PatchProposal{
		ID:          proposalID(params),
		Path:        params.Path,
		Diff:        params.Diff,
		Explanation: params.Explanation,
		Status:      StatusPendingApproval,
		Additions:   additions,
		Deletions:   deletions,
		Message:     fmt.Sprintf("Patch proposed for %s; awaiting user approval.", params.Path),
	}

	output, err := json.Marshal(proposal)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}

	return &Result{Output: string(output), Proposal: proposal}, nil
}

// proposalID derives a stable identifier from the proposal content, so the
// caller's approval workflow and any later conversation turn refer to the
// same patch by the same ID.
func proposalID(in PatchInput) string {
	h := sha256.New()
	h.Write([]byte(in.Path))
	h.Write([]byte{0})
	h.Write([]byte(in.Diff))
	h.Write([]byte{0})
	h.Write([]byte(in.Explanation))
	return "patch_" + hex.EncodeToString(h.Sum(nil)[:8])
}
