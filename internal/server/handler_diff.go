package server

import (
	"encoding/json"
	"net/http"

	"github.com/assistd/assistd/internal/tool"
	"github.com/assistd/assistd/internal/unidiff"
)

// diffRequest asks for a unified diff between two versions of a file.
type diffRequest struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// diffResponse carries the rendered diff and its hunk stats.
type diffResponse struct {
	Diff      string `json:"diff"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// renderDiff handles POST /api/ai/diff: clients composing or previewing a
// patch proposal get a conformant unified diff (three context lines, a/ b/
// headers) without reimplementing diff generation. An empty diff means the
// versions are identical.
func (s *Server) renderDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		writeInvalidRequest(w, []tool.FieldViolation{
			{Field: "(body)", Reason: "must be a JSON object"},
		})
		return
	}
	if req.Path == "" {
		writeInvalidRequest(w, []tool.FieldViolation{
			{Field: "path", Reason: "is required"},
		})
		return
	}

	resp := diffResponse{Diff: unidiff.Render(req.Path, req.Before, req.After)}
	if resp.Diff != "" {
		if parsed, err := unidiff.Parse(resp.Diff); err == nil {
			resp.Additions = parsed.Additions
			resp.Deletions = parsed.Deletions
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
