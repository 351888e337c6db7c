// Package unidiff parses and renders unified-diff text.
//
// Parsing is hand-written because the diff libraries in use render patches
// but do not read unified-diff text back. Rendering reuses
// sergi/go-diff's line-mode pipeline.
package unidiff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Hunk is a single @@ block of a unified diff.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	// Lines carry their leading marker (' ', '-' or '+').
	Lines []string
}

// Diff is a parsed single-file unified diff.
type Diff struct {
	OldPath   string
	NewPath   string
	Hunks     []Hunk
	Additions int
	Deletions int
}

// Parse reads unified-diff text for a single file. It validates file headers,
// hunk headers and hunk line counts, and tallies added/deleted lines.
func Parse(text string) (*Diff, error) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("diff too short: missing file headers")
	}

	d := &Diff{}
	i := 0

	// Optional "diff --git"/index preamble before the file headers.
	for i < len(lines) && !strings.HasPrefix(lines[i], "--- ") {
		i++
	}
	if i >= len(lines) {
		return nil, fmt.Errorf("missing --- file header")
	}
	d.OldPath = strings.TrimPrefix(lines[i], "--- ")
	i++
	if i >= len(lines) || !strings.HasPrefix(lines[i], "+++ ") {
		return nil, fmt.Errorf("missing +++ file header")
	}
	d.NewPath = strings.TrimPrefix(lines[i], "+++ ")
	i++

	for i < len(lines) {
		header := lines[i]
		if !strings.HasPrefix(header, "@@ ") {
			return nil, fmt.Errorf("line %d: expected hunk header, got %q", i+1, header)
		}
		h, err := parseHunkHeader(header)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		i++

		oldSeen, newSeen := 0, 0
		for i < len(lines) && (oldSeen < h.OldLines || newSeen < h.NewLines) {
			line := lines[i]
			if line == `\ No newline at end of file` {
				i++
				continue
			}
			if line == "" {
				// Some producers emit empty context lines without the marker.
				line = " "
			}
			switch line[0] {
			case ' ':
				oldSeen++
				newSeen++
			case '-':
				oldSeen++
				d.Deletions++
			case '+':
				newSeen++
				d.Additions++
			default:
				return nil, fmt.Errorf("line %d: invalid diff line prefix %q", i+1, line[0])
			}
			h.Lines = append(h.Lines, line)
			i++
		}
		if oldSeen != h.OldLines || newSeen != h.NewLines {
			return nil, fmt.Errorf("hunk %q: body has %d/%d lines, header declares %d/%d",
				header, oldSeen, newSeen, h.OldLines, h.NewLines)
		}
		d.Hunks = append(d.Hunks, h)
	}

	if len(d.Hunks) == 0 {
		return nil, fmt.Errorf("diff has no hunks")
	}
	return d, nil
}

func parseHunkHeader(header string) (Hunk, error) {
	var h Hunk
	body := strings.TrimPrefix(header, "@@ ")
	end := strings.Index(body, " @@")
	if end < 0 {
		return h, fmt.Errorf("malformed hunk header %q", header)
	}
	var err error
	for _, span := range strings.Fields(body[:end]) {
		switch {
		case strings.HasPrefix(span, "-"):
			h.OldStart, h.OldLines, err = parseRange(span[1:])
		case strings.HasPrefix(span, "+"):
			h.NewStart, h.NewLines, err = parseRange(span[1:])
		default:
			err = fmt.Errorf("unexpected range %q", span)
		}
		if err != nil {
			return h, fmt.Errorf("malformed hunk header %q: %w", header, err)
		}
	}
	return h, nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if comma := strings.Index(s, ","); comma >= 0 {
		if _, err = fmt.Sscanf(s[comma+1:], "%d", &count); err != nil {
			return 0, 0, err
		}
		s = s[:comma]
	}
	if _, err = fmt.Sscanf(s, "%d", &start); err != nil {
		return 0, 0, err
	}
	return start, count, nil
}

// DefaultContext is the number of context lines Render keeps around changes.
const DefaultContext = 3

// Render produces a unified diff between before and after, with file headers
// naming path and DefaultContext lines of context around each change.
// It returns "" when the inputs are identical.
func Render(path, before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	ops := flatten(diffs)
	hunks := buildHunks(ops, DefaultContext)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, line := range h.Lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

type lineOp struct {
	op   byte // ' ', '-' or '+'
	text string
}

func flatten(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	for _, d := range diffs {
		var op byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			op = ' '
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" && d.Text != "\n" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			ops = append(ops, lineOp{op: op, text: line})
		}
	}
	return ops
}

func buildHunks(ops []lineOp, context int) []Hunk {
	n := len(ops)

	// Line numbers in the old/new file at each op position.
	oldNo := make([]int, n)
	newNo := make([]int, n)
	o, nw := 1, 1
	for i, op := range ops {
		oldNo[i], newNo[i] = o, nw
		switch op.op {
		case ' ':
			o++
			nw++
		case '-':
			o++
		case '+':
			nw++
		}
	}

	var changes []int
	for i, op := range ops {
		if op.op != ' ' {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	for g := 0; g < len(changes); {
		first := changes[g]
		last := first
		g++
		for g < len(changes) && changes[g]-last-1 <= 2*context {
			last = changes[g]
			g++
		}

		start := first - context
		if start < 0 {
			start = 0
		}
		end := last + context
		if end > n-1 {
			end = n - 1
		}

		h := Hunk{OldStart: oldNo[start], NewStart: newNo[start]}
		for i := start; i <= end; i++ {
			switch ops[i].op {
			case ' ':
				h.OldLines++
				h.NewLines++
			case '-':
				h.OldLines++
			case '+':
				h.NewLines++
			}
			h.Lines = append(h.Lines, string(ops[i].op)+ops[i].text)
		}
		hunks = append(hunks, h)
	}
	return hunks
}
