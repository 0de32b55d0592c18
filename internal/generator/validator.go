package generator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/admin-masters/Ai-cme/internal/textkit"
)

// ReviewMCQBlock runs the deterministic checks every generated question must
// pass before it is persisted. It returns one finding per problem; an empty
// slice means the block is acceptable. concept is the prose the question was
// written from, title the sub-topic title (which may license pregnancy or
// adult material the ban would otherwise catch).
func ReviewMCQBlock(block MCQBlock, concept, title string) []string {
	var findings []string

	if strings.TrimSpace(block.Stem) == "" {
		findings = append(findings, "stem is blank")
	}
	if len(block.Choices) != 4 {
		findings = append(findings, fmt.Sprintf("expected 4 choices, got %d", len(block.Choices)))
		return findings
	}
	for i, c := range block.Choices {
		if strings.TrimSpace(c) == "" {
			findings = append(findings, fmt.Sprintf("choice %d is blank", i))
		}
	}
	if len(block.Rationales) != 4 {
		findings = append(findings, fmt.Sprintf("expected 4 rationales, got %d", len(block.Rationales)))
		return findings
	}
	for i, r := range block.Rationales {
		if strings.TrimSpace(r) == "" {
			findings = append(findings, fmt.Sprintf("rationale %d is blank", i))
		}
	}
	if block.CorrectIndex < 0 || block.CorrectIndex > 3 {
		findings = append(findings, fmt.Sprintf("correct_index %d out of range", block.CorrectIndex))
		return findings
	}

	correct := block.Choices[block.CorrectIndex]
	if !textkit.WordOverlap(block.Explanation, correct) {
		findings = append(findings, "explanation does not reference the correct choice")
	}
	if !textkit.WordOverlap(correct, concept) {
		findings = append(findings, "correct choice is not grounded in the concept")
	}
	if textkit.HasAdultContext(block.Stem+" "+strings.Join(block.Choices, " ")) && !textkit.HasAdultContext(title+" "+concept) {
		findings = append(findings, "question drifts into pregnancy or adult material the sub-topic does not cover")
	}

	for i, r := range block.Rationales {
		lower := strings.ToLower(strings.TrimSpace(r))
		if i == block.CorrectIndex {
			if strings.HasPrefix(lower, "incorrect") {
				findings = append(findings, "correct rationale reads as a distractor rationale")
			}
		} else if strings.HasPrefix(lower, "correct") {
			findings = append(findings, fmt.Sprintf("distractor rationale %d reads as the correct rationale", i))
		}
	}

	for name, v := range map[string]*MCQVariant{"variant1": block.Variant1, "variant2": block.Variant2} {
		if v == nil {
			findings = append(findings, name+" missing")
			continue
		}
		if strings.TrimSpace(v.Stem) == "" {
			findings = append(findings, name+" stem is blank")
		}
		if v.CorrectIndex < 0 || v.CorrectIndex > 3 {
			findings = append(findings, fmt.Sprintf("%s correct_index %d out of range", name, v.CorrectIndex))
		}
	}

	return findings
}

// ShuffleMCQ permutes the choices (rationales travel with them) and remaps
// every correct_index. Variant indexes are remapped by choice text since they
// refer to positions in the pre-shuffle order.
func ShuffleMCQ(block MCQBlock, rng *rand.Rand) MCQBlock {
	n := len(block.Choices)
	perm := rng.Perm(n)

	original := block.Choices
	choices := make([]string, n)
	rationales := make([]string, n)
	for newIdx, oldIdx := range perm {
		choices[newIdx] = block.Choices[oldIdx]
		rationales[newIdx] = block.Rationales[oldIdx]
	}
	block.Choices = choices
	block.Rationales = rationales
	block.CorrectIndex = indexOfText(choices, original[block.CorrectIndex])

	for _, v := range []*MCQVariant{block.Variant1, block.Variant2} {
		if v == nil || v.CorrectIndex < 0 || v.CorrectIndex >= n {
			continue
		}
		v.CorrectIndex = indexOfText(choices, original[v.CorrectIndex])
	}
	return block
}

func indexOfText(choices []string, text string) int {
	for i, c := range choices {
		if c == text {
			return i
		}
	}
	return 0
}
