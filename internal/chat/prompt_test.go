package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompose_Deterministic(t *testing.T) {
	file := &CurrentFile{Path: "src/app.ts", Content: "const x = 1;\n"}

	assert.Equal(t, Compose(nil), Compose(nil))
	assert.Equal(t, Compose(file), Compose(file))
	assert.NotEqual(t, Compose(nil), Compose(file))
}

func TestCompose_AlwaysMandatesPatchTool(t *testing.T) {
	for _, file := range []*CurrentFile{nil, {Path: "a.go", Content: "x"}} {
		prompt := Compose(file)
		assert.Contains(t, prompt, "editFileWithPatch")
		assert.Contains(t, prompt, "--- a/<path>")
		assert.Contains(t, prompt, "+++ b/<path>")
		assert.Contains(t, prompt, "at least 3 unchanged context lines")
	}
}

func TestCompose_EmbedsCurrentFileVerbatim(t *testing.T) {
	file := &CurrentFile{Path: "src/app.ts", Content: "const x = 1;\nconst y = 2;\n"}
	prompt := Compose(file)

	assert.Contains(t, prompt, "src/app.ts")
	assert.Contains(t, prompt, file.Content)
}

func TestCompose_NoFileOmitsFileSection(t *testing.T) {
	assert.NotContains(t, Compose(nil), "# Current File")
}
