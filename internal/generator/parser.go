package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Every LLM response is decoded into a typed payload immediately after parse,
// with defaults filled in so missing keys never travel deeper as zero values
// the pipeline cannot distinguish from real data.

type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// DecodeJSON strips code fences and unmarshals into v. On failure it rescues
// the outermost {...} block before giving up.
func DecodeJSON(content string, v interface{}) error {
	cleaned := stripCodeFences(content)
	if err := json.Unmarshal([]byte(cleaned), v); err == nil {
		return nil
	}
	rescued, ok := rescueObject(cleaned)
	if !ok {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(rescued), v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```json"))
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func rescueObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// ── subtopic outline payloads ──────────────────────────

type TitleList struct {
	Subtopics []string `json:"subtopics"`
}

func ParseTitleList(content string) ([]string, error) {
	var payload TitleList
	if err := DecodeJSON(content, &payload); err != nil {
		return nil, err
	}
	var out []string
	for _, t := range payload.Subtopics {
		if strings.TrimSpace(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out, nil
}

type RubricDimension struct {
	Name     string `json:"name"`
	Why      string `json:"why"`
	Required bool   `json:"required"`
	Weight   int    `json:"weight"`
}

type Rubric struct {
	TopicKind  string            `json:"topic_kind"`
	Dimensions []RubricDimension `json:"dimensions"`
}

// FallbackRubric is used when the rubric call fails; the pipeline must not
// stall on a planning aid.
func FallbackRubric() *Rubric {
	return &Rubric{
		TopicKind: "other",
		Dimensions: []RubricDimension{
			{Name: "clinical_workflow", Why: "practical decisions", Required: true, Weight: 5},
			{Name: "core_science", Why: "foundational", Required: false, Weight: 2},
			{Name: "safety_quality", Why: "prevent harm", Required: true, Weight: 4},
		},
	}
}

func ParseRubric(content string) (*Rubric, error) {
	var r Rubric
	if err := DecodeJSON(content, &r); err != nil {
		return nil, err
	}
	r.TopicKind = strings.TrimSpace(r.TopicKind)
	if r.TopicKind == "" {
		r.TopicKind = "other"
	}
	cleaned := r.Dimensions[:0]
	for _, d := range r.Dimensions {
		if strings.TrimSpace(d.Name) == "" {
			continue
		}
		if d.Weight < 1 || d.Weight > 5 {
			d.Weight = 3
		}
		cleaned = append(cleaned, d)
	}
	r.Dimensions = cleaned
	return &r, nil
}

type Reword struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type OutlineVerdict struct {
	Complete bool       `json:"complete"`
	Missing  []string   `json:"missing"`
	Drop     []string   `json:"drop"`
	Merge    [][]string `json:"merge"`
	Reword   []Reword   `json:"reword"`
	Notes    string     `json:"notes"`
}

func ParseOutlineVerdict(content string) (*OutlineVerdict, error) {
	var v OutlineVerdict
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ── MCQ payloads ───────────────────────────────────────

type MCQVariant struct {
	Stem         string `json:"stem"`
	CorrectIndex int    `json:"correct_index"`
}

type MCQBlock struct {
	Stem         string      `json:"stem"`
	Choices      []string    `json:"choices"`
	Rationales   []string    `json:"rationales"`
	CorrectIndex int         `json:"correct_index"`
	Explanation  string      `json:"explanation"`
	Variant1     *MCQVariant `json:"variant1"`
	Variant2     *MCQVariant `json:"variant2"`
}

type MCQBatch struct {
	MCQs []MCQBlock `json:"mcqs"`
}

// ParseMCQBatch accepts either {"mcqs":[...]} or a bare array and pads
// rationales so downstream zips are safe.
func ParseMCQBatch(content string) ([]MCQBlock, error) {
	var batch MCQBatch
	if err := DecodeJSON(content, &batch); err != nil {
		var bare []MCQBlock
		if err2 := DecodeJSON(content, &bare); err2 != nil {
			return nil, err
		}
		batch.MCQs = bare
	}
	for i := range batch.MCQs {
		b := &batch.MCQs[i]
		for len(b.Rationales) < len(b.Choices) {
			b.Rationales = append(b.Rationales, "")
		}
		if len(b.Rationales) > len(b.Choices) {
			b.Rationales = b.Rationales[:len(b.Choices)]
		}
	}
	return batch.MCQs, nil
}

type BlueprintItem struct {
	Focus    string `json:"focus"`
	Why      string `json:"why"`
	Skill    string `json:"skill"`
	Priority int    `json:"priority"`
}

type MCQRecommendation struct {
	Count  int    `json:"count"`
	Reason string `json:"reason"`
}

type MCQPlan struct {
	Recommendation MCQRecommendation `json:"recommendation"`
	Blueprint      []BlueprintItem   `json:"blueprint"`
	UsedBlueprint  []BlueprintItem   `json:"used_blueprint"`
}

// ParseMCQPlan sanitizes the planner output: count clamped to [1, maxPerSub],
// blueprint ordered by priority, and the top-count entries selected.
func ParseMCQPlan(content string, maxPerSub int) (*MCQPlan, error) {
	var plan MCQPlan
	if err := DecodeJSON(content, &plan); err != nil {
		return nil, err
	}
	if plan.Recommendation.Count < 1 {
		plan.Recommendation.Count = 2
	}
	if plan.Recommendation.Count > maxPerSub {
		plan.Recommendation.Count = maxPerSub
	}
	kept := plan.Blueprint[:0]
	for _, bp := range plan.Blueprint {
		if strings.TrimSpace(bp.Focus) != "" {
			kept = append(kept, bp)
		}
	}
	plan.Blueprint = kept
	sort.SliceStable(plan.Blueprint, func(i, j int) bool {
		pi, pj := plan.Blueprint[i].Priority, plan.Blueprint[j].Priority
		if pi == 0 {
			pi = 1 << 30
		}
		if pj == 0 {
			pj = 1 << 30
		}
		return pi < pj
	})
	n := plan.Recommendation.Count
	if n > len(plan.Blueprint) {
		n = len(plan.Blueprint)
	}
	plan.UsedBlueprint = plan.Blueprint[:n]
	return &plan, nil
}

// ── case payloads ──────────────────────────────────────

type AmenabilityVerdict struct {
	Amenable           bool            `json:"amenable"`
	Confidence         json.RawMessage `json:"confidence"`
	Why                string          `json:"why"`
	SuggestedCaseFocus []string        `json:"suggested_case_focus"`
}

func ParseAmenability(content string) (amenable bool, confidence int, err error) {
	var v AmenabilityVerdict
	if err := DecodeJSON(content, &v); err != nil {
		return false, 0, err
	}
	return v.Amenable, CoerceConfidence(v.Confidence), nil
}

var numRE = regexp.MustCompile(`\d+(?:\.\d+)?`)

// CoerceConfidence normalizes model confidence into [0, 100], accepting 79,
// "79", "79%", and fractional 0.79 forms.
func CoerceConfidence(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	m := numRE.FindString(s)
	if m == "" {
		return 0
	}
	val, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	if val >= 0 && val <= 1 {
		val *= 100
	}
	n := int(val + 0.5)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

type CasePick struct {
	Pick []string `json:"pick"`
	Why  string   `json:"why"`
}

func ParseCasePick(content string, slots int) ([]string, error) {
	var v CasePick
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	var out []string
	for _, p := range v.Pick {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) > slots {
		out = out[:slots]
	}
	return out, nil
}

type CasePayload struct {
	Title             string `json:"title"`
	Vignette          string `json:"vignette"`
	LearningObjective string `json:"learning_objective"`
}

func ParseCasePayload(content string) (*CasePayload, error) {
	var v CasePayload
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	v.Title = clip(strings.TrimSpace(v.Title), 255)
	v.Vignette = strings.TrimSpace(v.Vignette)
	v.LearningObjective = clip(strings.TrimSpace(v.LearningObjective), 255)
	return &v, nil
}

type SuggestedFix struct {
	QuestionID string   `json:"question_id"`
	Stem       string   `json:"stem"`
	Rationales []string `json:"rationales"`
}

type QAVerdict struct {
	Verdict       string         `json:"verdict"`
	Issues        []string       `json:"issues"`
	SuggestedFixs []SuggestedFix `json:"suggested_fixes"`
}

// ParseQAVerdict defaults anything that is not an explicit pass to fail.
func ParseQAVerdict(content string) (*QAVerdict, error) {
	var v QAVerdict
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	v.Verdict = strings.ToLower(strings.TrimSpace(v.Verdict))
	if v.Verdict != "pass" {
		v.Verdict = "fail"
	}
	return &v, nil
}

type ExtractedCase struct {
	CaseTitle         string `json:"case_title"`
	Vignette          string `json:"vignette"`
	LearningObjective string `json:"learning_objective"`
}

type extractedCases struct {
	Cases []ExtractedCase `json:"cases"`
}

// ParseExtractedCases drops vignettes under 80 chars and fills titles.
func ParseExtractedCases(content string) ([]ExtractedCase, error) {
	var v extractedCases
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	var out []ExtractedCase
	for _, c := range v.Cases {
		c.Vignette = strings.TrimSpace(c.Vignette)
		if len(c.Vignette) < 80 {
			continue
		}
		c.CaseTitle = clip(strings.TrimSpace(c.CaseTitle), 255)
		if c.CaseTitle == "" {
			c.CaseTitle = "Clinical case"
		}
		c.LearningObjective = clip(strings.TrimSpace(c.LearningObjective), 255)
		out = append(out, c)
	}
	return out, nil
}

type CaseAssignment struct {
	CaseIndex  int    `json:"case_index"`
	SubtopicID string `json:"subtopic_id"`
	Reason     string `json:"reason"`
}

type caseAssignments struct {
	Assignments []CaseAssignment `json:"assignments"`
}

// ParseCaseAssignments keeps only assignments naming a known subtopic and a
// valid case index.
func ParseCaseAssignments(content string, caseCount int, validIDs map[string]bool) ([]CaseAssignment, error) {
	var v caseAssignments
	if err := DecodeJSON(content, &v); err != nil {
		return nil, err
	}
	var out []CaseAssignment
	for _, a := range v.Assignments {
		a.SubtopicID = strings.TrimSpace(a.SubtopicID)
		if a.CaseIndex < 0 || a.CaseIndex >= caseCount || !validIDs[a.SubtopicID] {
			continue
		}
		a.Reason = clip(a.Reason, 200)
		out = append(out, a)
	}
	return out, nil
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
