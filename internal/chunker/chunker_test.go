package chunker

import (
	"strings"
	"testing"
)

func TestSplit_Empty(t *testing.T) {
	if got := Split("", 100, 10); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
}

func TestSplit_ShortText(t *testing.T) {
	chunks := Split("Short note.", 100, 10)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.Text != "Short note." {
		t.Errorf("Text = %q", c.Text)
	}
	if c.StartOffset != 0 || c.EndOffset != len("Short note.") {
		t.Errorf("offsets = (%d, %d)", c.StartOffset, c.EndOffset)
	}
	if c.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", c.TotalChunks)
	}
}

func TestSplit_SentenceBoundary(t *testing.T) {
	text := "First sentence here. Second sentence is a bit longer. Third one closes it out."
	chunks := Split(text, 40, 5)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	// The first cut must land just after a sentence terminator, not
	// mid-sentence at the raw 40-character mark.
	first := chunks[0].Text
	if !strings.HasSuffix(first, ".") {
		t.Errorf("first chunk does not end at a sentence boundary: %q", first)
	}
}

func TestSplit_NoBoundaryFallsBackToRawCut(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := Split(text, 100, 10)

	if chunks[0].EndOffset != 100 {
		t.Errorf("first chunk end = %d, want raw cut at 100", chunks[0].EndOffset)
	}
	// All text must be covered.
	last := chunks[len(chunks)-1]
	if last.EndOffset != len(text) {
		t.Errorf("last chunk end = %d, want %d", last.EndOffset, len(text))
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The market closed higher today. Analysts expect volatility. ", 50)
	a := Split(text, 200, 40)
	b := Split(text, 200, 40)

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].StartOffset != b[i].StartOffset || a[i].EndOffset != b[i].EndOffset {
			t.Errorf("chunk %d boundaries differ: (%d,%d) vs (%d,%d)",
				i, a[i].StartOffset, a[i].EndOffset, b[i].StartOffset, b[i].EndOffset)
		}
	}
}

func TestSplit_OverlapBounded(t *testing.T) {
	text := strings.Repeat("One two three four five six seven eight nine ten. ", 40)
	overlap := 30
	chunks := Split(text, 150, overlap)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 0; i+1 < len(chunks); i++ {
		got := OverlapLen(chunks[i], chunks[i+1])
		if got > overlap {
			t.Errorf("overlap between chunk %d and %d = %d, want <= %d", i, i+1, got, overlap)
		}
		if got <= 0 {
			t.Errorf("chunks %d and %d do not overlap", i, i+1)
		}
	}
}

func TestSplit_Termination_DegenerateRemainder(t *testing.T) {
	// Overlap nearly as large as the chunk forces the degenerate advance
	// path; the call must still terminate and cover the text.
	text := strings.Repeat("x. ", 100)
	chunks := Split(text, 20, 19)

	if len(chunks) == 0 {
		t.Fatal("no chunks returned")
	}
	if chunks[len(chunks)-1].EndOffset != len(text) {
		t.Errorf("text not fully covered")
	}
}

func TestSplit_IndexesAreSequential(t *testing.T) {
	text := strings.Repeat("Sentence with some words in it. ", 30)
	chunks := Split(text, 120, 20)
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
		if c.TotalChunks != len(chunks) {
			t.Errorf("chunk %d TotalChunks = %d, want %d", i, c.TotalChunks, len(chunks))
		}
	}
}
