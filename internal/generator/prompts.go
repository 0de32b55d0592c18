package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// System prompts are kept short; the user prompts carry the schemas. All JSON
// calls instruct "JSON only" so the parser rarely needs the fence stripper.

func OutlineSystemPrompt() string {
	return `You are a paediatrics curriculum designer building continuing medical education study plans for practising paediatricians. You structure clinical topics into teachable sub-topics.

Sub-topic titles must be:
- Specific to paediatric practice (never adult medicine unless the topic itself is adult-facing)
- Short noun phrases, 2-8 words, no trailing punctuation
- Mutually distinct: no two titles covering the same material under different wording

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

func ConceptSystemPrompt() string {
	return `You are a medical educator writing concise concept notes for practising paediatricians. You rewrite source material faithfully: every clinical claim in your output must come from the supplied source text. You never invent doses, thresholds, or recommendations.

Write flowing prose, not bullet lists. No headings, no markdown.`
}

func MCQSystemPrompt() string {
	return `You are a medical assessment writer creating single-best-answer multiple choice questions for practising paediatricians. Questions test clinical decision-making, not recall trivia.

Rules for every question:
- Exactly 4 answer choices, exactly one correct
- A rationale for each choice: why the correct one is right, why each distractor is wrong
- The correct rationale must never begin with "Incorrect"; distractor rationales must never begin with "Correct"
- The explanation must reference the correct choice's content
- Stay within paediatric scope unless the material itself covers pregnancy or adult care

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

func CaseSystemPrompt() string {
	return `You are a medical educator writing clinical case vignettes for paediatric continuing education. Vignettes describe a single realistic patient encounter: presentation, relevant findings, and the decision point. No diagnosis reveal inside the vignette itself.

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

func QASystemPrompt() string {
	return `You are a clinical content reviewer for paediatric education material. You judge strictly: factual accuracy, internal consistency, and whether assessment items are answerable from the material given.

You must respond with valid JSON only. No markdown, no explanation outside the JSON.`
}

// ── outline prompts ────────────────────────────────────

func BuildDraftPrompt(topic string, minN, maxN int) string {
	return fmt.Sprintf(`Draft the sub-topic outline for a paediatric study plan on "%s".

Produce between %d and %d sub-topic titles covering the topic end to end: epidemiology and burden, pathophysiology, clinical presentation, assessment and diagnosis, management, complications, prevention, and follow-up, as applicable to this topic.

Respond with this exact JSON structure:
{"subtopics": ["...", "..."]}`, topic, minN, maxN)
}

func BuildRubricPrompt(topic string) string {
	return fmt.Sprintf(`Classify the paediatric topic "%s" and list the coverage dimensions a complete study plan outline must include.

topic_kind is one of: infection, chronic_disease, acute_emergency, nutrition, development, procedure, public_health, other.

Respond with this exact JSON structure:
{
  "topic_kind": "infection",
  "dimensions": [
    {"name": "diagnosis", "why": "...", "required": true, "weight": 5}
  ]
}

weight is 1-5. Mark required=true only for dimensions whose absence would make the plan clinically unsafe or incomplete.`, topic)
}

func BuildVerifyPrompt(topic string, rubric *Rubric, titles []string) string {
	dims := make([]string, 0, len(rubric.Dimensions))
	for _, d := range rubric.Dimensions {
		req := ""
		if d.Required {
			req = " (required)"
		}
		dims = append(dims, fmt.Sprintf("- %s, weight %d%s", d.Name, d.Weight, req))
	}
	return fmt.Sprintf(`Review this draft outline for a paediatric study plan on "%s" (topic kind: %s).

Coverage dimensions:
%s

Draft outline:
%s

Identify problems and propose repairs. merge pairs name two existing titles to combine; reword maps an existing title to better phrasing; drop names redundant titles; missing lists dimensions or material the outline lacks.

Respond with this exact JSON structure:
{
  "complete": false,
  "missing": ["..."],
  "drop": ["..."],
  "merge": [["title A", "title B"]],
  "reword": [{"from": "...", "to": "..."}],
  "notes": "..."
}`, topic, rubric.TopicKind, strings.Join(dims, "\n"), numberedList(titles))
}

func BuildCoalescePrompt(topic string, titles []string, target int) string {
	return fmt.Sprintf(`This outline for "%s" has %d sub-topics; it must have at most %d. Merge overlapping titles so the result keeps all clinical content but fits the limit. Prefer merging narrow variants of the same theme; never merge diagnosis into treatment or vice versa.

Current outline:
%s

Respond with this exact JSON structure:
{"subtopics": ["...", "..."]}`, topic, len(titles), target, numberedList(titles))
}

func BuildTopUpPrompt(topic string, existing []string, need int) string {
	return fmt.Sprintf(`This outline for "%s" is %d sub-topics short. Add exactly %d new titles covering material the current outline misses. Do not repeat or rephrase any existing title.

Current outline:
%s

Respond with this exact JSON structure:
{"subtopics": ["...", "..."]}`, topic, need, need, numberedList(existing))
}

// ── concept prompt ─────────────────────────────────────

func BuildConceptPrompt(topic, subtopic, source, outlineSlot, disambiguation string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write the concept note for the sub-topic "%s" in a paediatric study plan on "%s".

`, subtopic, topic)
	if outlineSlot != "" {
		fmt.Fprintf(&b, "This sub-topic's place in the plan: %s\n\n", outlineSlot)
	}
	if disambiguation != "" {
		fmt.Fprintf(&b, "%s\n\n", disambiguation)
	}
	fmt.Fprintf(&b, `Requirements:
- 400-900 words of flowing prose
- Every clinical claim must come from the source text below; omit what the source does not support
- Cover this sub-topic only; do not drift into sibling sub-topics
- End with a complete sentence

SOURCE TEXT:
%s`, source)
	return b.String()
}

// ── case prompts ───────────────────────────────────────

func BuildAmenabilityPrompt(topic, subtopic, concept string) string {
	return fmt.Sprintf(`Is the sub-topic "%s" (topic "%s") suitable for a clinical case vignette? Suitable material involves a patient encounter with a decision point: presentation, diagnosis, or management. Abstract material (pure epidemiology, policy, pathophysiology without clinical decisions) is not.

Respond with this exact JSON structure:
{"amenable": true, "confidence": 80, "why": "...", "suggested_case_focus": ["..."]}

confidence is 0-100.

CONCEPT:
%s`, subtopic, topic, concept)
}

func BuildRankPrompt(topic string, candidateLines []string, slots int) string {
	return fmt.Sprintf(`These sub-topics of "%s" are candidates for case vignettes, but only %d slot(s) remain. Pick the %d candidate(s) where a case adds the most learning value. Each line is "id | title | confidence".

%s

Respond with this exact JSON structure:
{"pick": ["<id>"], "why": "..."}`, topic, slots, slots, strings.Join(candidateLines, "\n"))
}

func BuildCasePrompt(topic, subtopic, concept string) string {
	return fmt.Sprintf(`Write a clinical case vignette for the sub-topic "%s" in a paediatric study plan on "%s".

Requirements:
- Vignette of 100-200 words: one patient, realistic presentation, ends at a decision point
- No diagnosis reveal inside the vignette
- learning_objective is one sentence

Respond with this exact JSON structure:
{"title": "...", "vignette": "...", "learning_objective": "..."}

CONCEPT:
%s`, subtopic, topic, concept)
}

func BuildCaseMCQPrompt(topic, title, vignette, objective string) string {
	return fmt.Sprintf(`Write 1-2 multiple choice questions for this case vignette from a paediatric study plan on "%s". Questions must be answerable from the vignette alone plus standard paediatric knowledge; do not introduce findings the vignette does not mention.

CASE: %s
LEARNING OBJECTIVE: %s

VIGNETTE:
%s

Respond with this exact JSON structure:
{
  "mcqs": [
    {
      "stem": "...",
      "choices": ["...", "...", "...", "..."],
      "rationales": ["...", "...", "...", "..."],
      "correct_index": 0,
      "explanation": "..."
    }
  ]
}`, topic, title, objective, vignette)
}

func BuildCaseVerifyPrompt(topic, subtopic, bundleJSON string) string {
	return fmt.Sprintf(`Review this case bundle (vignette plus its questions) from a paediatric study plan on "%s", sub-topic "%s". Fail it if the vignette is clinically implausible, a question is unanswerable from the vignette, a marked correct answer is wrong, or rationales contradict the vignette.

Respond with this exact JSON structure:
{
  "verdict": "pass",
  "issues": ["..."],
  "suggested_fixes": [{"question_id": "...", "stem": "...", "rationales": ["..."]}]
}

BUNDLE:
%s`, topic, subtopic, bundleJSON)
}

func BuildExtractPrompt(topic, stitched string) string {
	return fmt.Sprintf(`The text below comes from the case-study sections of source material on "%s". Extract each self-contained patient vignette. Keep the vignette wording close to the source; 90-220 words each. Skip fragments that lack a patient or a clinical decision.

Respond with this exact JSON structure:
{
  "cases": [
    {"case_title": "...", "vignette": "...", "learning_objective": "..."}
  ]
}

TEXT:
%s`, topic, stitched)
}

func BuildAssignPrompt(topic string, targets []AssignTarget, cases []ExtractedCase) string {
	var tb strings.Builder
	for _, t := range targets {
		fmt.Fprintf(&tb, "%s | %s\n", t.ID, t.Title)
	}
	var cb strings.Builder
	for i, c := range cases {
		fmt.Fprintf(&cb, "[%d] %s: %s\n", i, c.CaseTitle, clip(c.Vignette, 300))
	}
	return fmt.Sprintf(`Match each extracted case to the one sub-topic of "%s" it teaches best. Leave a case unassigned if no sub-topic fits. Sub-topics are "id | title" rows; cases are indexed.

SUB-TOPICS:
%s
CASES:
%s
Respond with this exact JSON structure:
{"assignments": [{"case_index": 0, "subtopic_id": "...", "reason": "..."}]}`, topic, tb.String(), cb.String())
}

// ── MCQ prompts ────────────────────────────────────────

func BuildMCQPlanPrompt(topic, subtopic, concept string, maxPerSub int) string {
	return fmt.Sprintf(`Plan the multiple choice questions for the sub-topic "%s" in a paediatric study plan on "%s". Decide how many questions (1-%d) the material supports and blueprint each one.

skill is one of: recall, diagnosis, management, interpretation. priority 1 is most important.

Respond with this exact JSON structure:
{
  "recommendation": {"count": 2, "reason": "..."},
  "blueprint": [
    {"focus": "...", "why": "...", "skill": "management", "priority": 1}
  ]
}

CONCEPT:
%s`, subtopic, topic, maxPerSub, concept)
}

func BuildMCQPrompt(topic, subtopic, concept string, plan *MCQPlan, problems []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write %d multiple choice question(s) for the sub-topic "%s" in a paediatric study plan on "%s".

`, len(plan.UsedBlueprint), subtopic, topic)
	for i, bp := range plan.UsedBlueprint {
		fmt.Fprintf(&b, "Question %d focus: %s (skill: %s)\n", i+1, bp.Focus, bp.Skill)
	}
	if len(problems) > 0 {
		fmt.Fprintf(&b, "\nThe previous attempt failed review. Fix every finding:\n")
		for _, p := range problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	fmt.Fprintf(&b, `
Each question needs two stem variants (variant1, variant2): the same knowledge point asked differently, reusing the same four choices. correct_index in a variant names the correct choice's position for that variant's stem.

Respond with this exact JSON structure:
{
  "mcqs": [
    {
      "stem": "...",
      "choices": ["...", "...", "...", "..."],
      "rationales": ["...", "...", "...", "..."],
      "correct_index": 0,
      "explanation": "...",
      "variant1": {"stem": "...", "correct_index": 0},
      "variant2": {"stem": "...", "correct_index": 0}
    }
  ]
}

CONCEPT:
%s`, concept)
	return b.String()
}

func BuildVariantPrompt(block MCQBlock) string {
	choices, _ := json.Marshal(block.Choices)
	return fmt.Sprintf(`This question is missing stem variants. Write variant1 and variant2: the same knowledge point asked differently, reusing the same choices. correct_index names the correct choice's position.

STEM: %s
CHOICES: %s
CORRECT INDEX: %d

Respond with this exact JSON structure:
{"variant1": {"stem": "...", "correct_index": %d}, "variant2": {"stem": "...", "correct_index": %d}}`,
		block.Stem, choices, block.CorrectIndex, block.CorrectIndex, block.CorrectIndex)
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return b.String()
}
