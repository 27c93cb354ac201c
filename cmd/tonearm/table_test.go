package main

import (
	"strings"
	"testing"
)

func TestRenderTableAlignsNumericColumns(t *testing.T) {
	headers := []string{"Track", "Attempts"}
	rows := [][]string{{"a-fairly-long-track-name", "1/5"}}

	left := renderTable(headers, rows)
	if !strings.Contains(left, "1/5     ") {
		t.Fatalf("expected left-aligned attempts by default:\n%s", left)
	}

	right := renderTable(headers, rows, 1)
	if !strings.Contains(right, "     1/5") {
		t.Fatalf("expected right-aligned attempts for column 1:\n%s", right)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable(
		[]string{"ID", "Status", "Last Error"},
		[][]string{{"abc123", "completed"}},
	)
	if !strings.Contains(out, "abc123") || !strings.Contains(out, "completed") {
		t.Fatalf("row content missing:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	width := len([]rune(lines[0]))
	for _, line := range lines {
		if len([]rune(line)) != width {
			t.Fatalf("ragged input produced uneven table:\n%s", out)
		}
	}
}

func TestRenderTableWithoutHeadersIsEmpty(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestAllColumns(t *testing.T) {
	got := allColumns([]string{"a", "b", "c"})
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("allColumns = %v", got)
	}
}
