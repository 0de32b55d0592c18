package search

import (
	"context"
	"strings"
	"testing"
)

func corpus() *MemIndex {
	return NewMemIndex(
		Document{ID: "d1", Topic: "Typhoid Fever", Subtopic: "Diagnosis", Sequence: "2", ChunkIndex: 0,
			Content: "Blood culture remains the definitive test.", References: []string{"Nelson Textbook, ch 12 (https://example.org/nelson)"}},
		Document{ID: "d2", Topic: "Typhoid Fever", Subtopic: "Diagnosis", Sequence: "2", ChunkIndex: 1,
			Content: "Widal interpretation requires paired titres.", References: []string{"Nelson  Textbook, ch 12 (https://example.org/nelson)"}},
		Document{ID: "d3", Topic: "Typhoid Fever", Subtopic: "Diagnosis", SubSubtopic: "Culture technique", Sequence: "2a", ChunkIndex: 0,
			Content: "Sample before antibiotics; volume matters."},
		Document{ID: "d4", Topic: "Typhoid Fever", Subtopic: "Treatment", Sequence: "3", ChunkIndex: 0,
			Content: "Ceftriaxone for severe disease.", References: []string{"WHO guideline 2023"}},
		Document{ID: "d5", Topic: "Typhoid Fever", Subtopic: "Case Studies", Sequence: "9", ChunkIndex: 0,
			Content: "A 6-year-old with day-5 fever..."},
	)
}

func TestFetchPassagesExact(t *testing.T) {
	r := NewRetriever(corpus())
	docs, err := r.FetchPassages(context.Background(), "Typhoid Fever", "Diagnosis")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	if docs[0].ID != "d1" || docs[1].ID != "d2" || docs[2].ID != "d3" {
		t.Errorf("unexpected order: %s %s %s", docs[0].ID, docs[1].ID, docs[2].ID)
	}
}

func TestFetchPassagesFallback(t *testing.T) {
	// stored topic name differs from the index label
	r := NewRetriever(corpus())
	docs, err := r.FetchPassages(context.Background(), "Enteric fever in children", "Diagnosis")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("fallback resolution failed, got %d docs", len(docs))
	}
}

func TestComposeSource(t *testing.T) {
	r := NewRetriever(corpus())
	docs, _ := r.FetchPassages(context.Background(), "Typhoid Fever", "Diagnosis")
	src := ComposeSource(docs, 4500)
	if !strings.Contains(src, "SUB-SUBTOPIC: Culture technique") {
		t.Error("sub-subtopic heading missing")
	}
	if strings.Index(src, "Blood culture") > strings.Index(src, "Culture technique") {
		t.Error("untitled material should come before titled groups")
	}
	if short := ComposeSource(docs, 30); len(short) > 30 {
		t.Errorf("char budget not enforced: %d", len(short))
	}
}

func TestFetchReferencesDedupes(t *testing.T) {
	r := NewRetriever(corpus())
	refs, err := r.FetchReferences(context.Background(), "Typhoid Fever", "Diagnosis")
	if err != nil {
		t.Fatal(err)
	}
	// d1 and d2 carry the same citation modulo whitespace
	if len(refs) != 1 {
		t.Fatalf("expected 1 deduped reference, got %d: %v", len(refs), refs)
	}
}

func TestOutlineSplitsVignettes(t *testing.T) {
	r := NewRetriever(corpus())
	resolved, outline, vignettes, err := r.Outline(context.Background(), "Typhoid Fever")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "Typhoid Fever" {
		t.Errorf("resolved = %q", resolved)
	}
	if len(outline) != 2 {
		t.Fatalf("expected 2 outline rows, got %d", len(outline))
	}
	if outline[0].Subtopic != "Diagnosis" || outline[1].Subtopic != "Treatment" {
		t.Errorf("unexpected outline order: %v", outline)
	}
	if outline[0].CoverageChars == 0 {
		t.Error("coverage chars not aggregated")
	}
	if len(vignettes) != 1 || vignettes[0].ID != "d5" {
		t.Errorf("vignette docs not separated: %v", vignettes)
	}
}

func TestStitchVignetteTextBudget(t *testing.T) {
	docs := []Document{
		{Sequence: "2", ChunkIndex: 0, Content: strings.Repeat("a", 50)},
		{Sequence: "1", ChunkIndex: 0, Content: strings.Repeat("b", 50)},
	}
	out := StitchVignetteText(docs, 60)
	if !strings.HasPrefix(out, "bbb") {
		t.Error("sequence order not respected")
	}
	if len(out) > 62 { // 60 chars of content plus joiner
		t.Errorf("budget exceeded: %d", len(out))
	}
}

func TestSequenceKeyOrdering(t *testing.T) {
	ordered := []string{"1", "2", "2a", "2a.1", "2b", "10", "unparsed"}
	for i := 0; i+1 < len(ordered); i++ {
		if !SequenceKey(ordered[i]).less(SequenceKey(ordered[i+1])) {
			t.Errorf("%q should sort before %q", ordered[i], ordered[i+1])
		}
	}
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Nelson ch 12 [link](https://example.org/a) also https://other.org", "https://example.org/a"},
		{"plain https://example.org/b citation", "https://example.org/b"},
		{"no link here", ""},
	}
	for _, tt := range tests {
		if got := ExtractURL(tt.in); got != tt.want {
			t.Errorf("ExtractURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
