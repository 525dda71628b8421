package textnorm

import "testing"

func TestTrimLeadingBlankLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no prefix", in: "Plan", want: "Plan"},
		{name: "single newline", in: "\nPlan", want: "Plan"},
		{name: "mixed blank lines", in: "\n \n\t\nPlan", want: "Plan"},
		{name: "crlf", in: " \r\n\r\nPlan", want: "Plan"},
		{name: "keeps indentation", in: "\n  - step one", want: "  - step one"},
		{name: "whitespace only", in: "  ", want: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TrimLeadingBlankLines(tt.in); got != tt.want {
				t.Fatalf("TrimLeadingBlankLines(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChunkTrimmerPerMessage(t *testing.T) {
	var trimmer ChunkTrimmer
	steps := []struct {
		id, chunk, want string
	}{
		{"run-1", "\n", ""},
		{"run-2", "\n\nResearch", "Research"},
		{"run-1", " \n", ""},
		{"run-1", "Plan", "Plan"},
		{"run-1", "\n\nnext", "\n\nnext"},
		{"run-2", " done", " done"},
	}

	for i, step := range steps {
		if got := trimmer.Push(step.id, step.chunk); got != step.want {
			t.Fatalf("step %d (%s %q) = %q, want %q", i, step.id, step.chunk, got, step.want)
		}
	}
}
