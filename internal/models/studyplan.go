package models

import "time"

// SubtopicStatus is the main pipeline lifecycle. Transitions are monotonic
// forward; redelivered queue messages for an already-advanced subtopic no-op.
type SubtopicStatus string

const (
	StatusQueued         SubtopicStatus = "queued"
	StatusRefsPending    SubtopicStatus = "refs_pending"
	StatusConceptPending SubtopicStatus = "concept_pending"
	StatusMCQPending     SubtopicStatus = "mcq_pending"
	StatusMCQReady       SubtopicStatus = "mcq_ready"
	StatusFailed         SubtopicStatus = "failed"
	StatusRefsMissing    SubtopicStatus = "refs_missing"
	StatusConceptSkipped SubtopicStatus = "concept_skipped"
)

// TerminalStatuses are the states from which no automatic transition occurs.
var TerminalStatuses = map[SubtopicStatus]bool{
	StatusMCQReady:       true,
	StatusFailed:         true,
	StatusRefsMissing:    true,
	StatusConceptSkipped: true,
}

// CaseStatus is the case-study sub-lifecycle, meaningful only when a subtopic
// is case-amenable.
type CaseStatus string

const (
	CaseNone      CaseStatus = ""
	CaseCandidate CaseStatus = "candidate"
	CasePending   CaseStatus = "pending"
	CaseReady     CaseStatus = "ready"
	CaseVerified  CaseStatus = "verified"
	CaseFailed    CaseStatus = "failed"
	CaseSkipped   CaseStatus = "skipped"
)

var TerminalCaseStatuses = map[CaseStatus]bool{
	CaseVerified: true,
	CaseFailed:   true,
	CaseSkipped:  true,
}

type ContentStatus string

const (
	ContentOK           ContentStatus = "ok"
	ContentInsufficient ContentStatus = "insufficient"
)

// Queue names, one per pipeline stage.
const (
	TopicQueue    = "topic-queue"
	SubtopicQueue = "subtopic-queue"
	ConceptQueue  = "concept-queue"
	MCQQueue      = "mcq-queue"
	CaseQueue     = "case-queue"
	CaseMCQQueue  = "case-mcq-queue"
	VerifyQueue   = "verify-queue"
	PlanQueue     = "plan-queue"
)

// ── Core Structs ───────────────────────────────────────

type Topic struct {
	ID        string    `json:"topic_id"`
	Name      string    `json:"topic_name"`
	Credits   int       `json:"credits,omitempty"`
	CreatedAt time.Time `json:"created_utc"`
}

type Subtopic struct {
	ID             string         `json:"subtopic_id"`
	TopicID        string         `json:"topic_id"`
	Title          string         `json:"title"`
	SequenceNo     int            `json:"sequence_no"`
	Status         SubtopicStatus `json:"status"`
	CaseAmenable   bool           `json:"case_amenable"`
	CaseConfidence int            `json:"case_confidence,omitempty"`
	CaseStatus     CaseStatus     `json:"case_status,omitempty"`
	CoverageScore  int            `json:"coverage_score"`
	ContentStatus  ContentStatus  `json:"content_status,omitempty"`
	CoverageNote   string         `json:"coverage_note,omitempty"`
}

type Concept struct {
	ID           string    `json:"concept_id"`
	SubtopicID   string    `json:"subtopic_id"`
	Content      string    `json:"content"`
	CoverageNote string    `json:"coverage_note,omitempty"`
	CreatedAt    time.Time `json:"created_utc"`
}

// Question is owned by either a subtopic or a case, never both.
type Question struct {
	ID            string  `json:"question_id"`
	SubtopicID    string  `json:"subtopic_id"`
	CaseID        *string `json:"case_id,omitempty"`
	Stem          string  `json:"stem"`
	CorrectChoice string  `json:"correct_choice"`
	Explanation   string  `json:"explanation"`
}

type Choice struct {
	ID          string `json:"choice_id,omitempty"`
	QuestionID  string `json:"-"`
	ChoiceIndex int    `json:"choice_index"`
	ChoiceText  string `json:"choice_text"`
	Rationale   string `json:"rationale"`
}

type Variant struct {
	ID                 string `json:"variant_id,omitempty"`
	QuestionID         string `json:"-"`
	VariantNo          int    `json:"variant_no"`
	Stem               string `json:"stem"`
	CorrectChoiceIndex int    `json:"correct_choice_index"`
}

type Case struct {
	ID                string    `json:"case_id"`
	SubtopicID        string    `json:"subtopic_id"`
	Title             string    `json:"title"`
	Vignette          string    `json:"vignette"`
	WordCount         int       `json:"word_count"`
	LearningObjective string    `json:"learning_objective"`
	Verified          *bool     `json:"verified"`
	QASummary         string    `json:"qa_summary,omitempty"`
	CreatedAt         time.Time `json:"created_utc"`
}

// Reference rows are shared across subtopics and questions and are only ever
// inserted-if-absent, keyed by the content hash in SourceID.
type Reference struct {
	ID           string `json:"reference_id,omitempty"`
	SourceID     string `json:"source_id"`
	CitationLink string `json:"citation_link"`
	Excerpt      string `json:"excerpt"`
}

type ContentGap struct {
	TopicID       string `json:"topic_id"`
	SubtopicID    string `json:"subtopic_id"`
	SubtopicTitle string `json:"title"`
	CoverageScore int    `json:"coverage_score"`
	Reason        string `json:"reason"`
}

type FailLogEntry struct {
	Stage    string `json:"stage"`
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

type QAReview struct {
	ID           string `json:"qa_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	Status       string `json:"status"`
	Issues       string `json:"issues"`
	SuggestedFix string `json:"suggested_fix"`
}

// ── Assembled plan document ────────────────────────────

type PlanDocument struct {
	TopicID      string         `json:"topic_id"`
	TopicName    string         `json:"topic_name"`
	AssembledUTC string         `json:"assembled_utc"`
	Subtopics    []PlanSubtopic `json:"subtopics"`
	Insufficient []PlanGap      `json:"insufficient_subtopics"`
}

type PlanSubtopic struct {
	SubtopicID    string         `json:"subtopic_id"`
	SubtopicTitle string         `json:"subtopic_title"`
	SequenceNo    int            `json:"sequence_no"`
	Concept       string         `json:"concept"`
	References    []Reference    `json:"references"`
	Questions     []PlanQuestion `json:"questions"`
	CaseStudies   []PlanCase     `json:"case_studies"`
	ContentStatus string         `json:"content_status"`
	CoverageNote  string         `json:"coverage_note,omitempty"`
}

type PlanQuestion struct {
	QuestionID         string      `json:"question_id"`
	Stem               string      `json:"stem"`
	Explanation        string      `json:"explanation"`
	CorrectChoice      string      `json:"correct_choice"`
	CorrectChoiceIndex *int        `json:"correct_choice_index"`
	Choices            []Choice    `json:"choices"`
	Variants           []Variant   `json:"variants"`
	References         []Reference `json:"references,omitempty"`
}

type PlanCase struct {
	CaseID            string         `json:"case_id"`
	Title             string         `json:"title"`
	Vignette          string         `json:"vignette"`
	LearningObjective string         `json:"learning_objective"`
	WordCount         int            `json:"word_count"`
	Verified          *bool          `json:"verified"`
	MCQs              []PlanQuestion `json:"mcqs"`
}

type PlanGap struct {
	SubtopicID string `json:"subtopic_id"`
	Title      string `json:"title"`
	Reason     string `json:"reason"`
}

// ── HTTP payloads ──────────────────────────────────────

type EnqueueTopicRequest struct {
	Topic   string `json:"topic"`
	Credits int    `json:"credits,omitempty"`
}

type EnqueueTopicResponse struct {
	TopicID         string `json:"topic_id"`
	SeededSubtopics int    `json:"seeded_subtopics"`
}

type EnqueueSubtopicsResponse struct {
	TopicID            string `json:"topic_id"`
	RefsPending        int    `json:"refs_pending"`
	Queued             int    `json:"queued"`
	SkippedLowCoverage int    `json:"skipped_low_coverage"`
	Queue              string `json:"queue"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type LoginRequest struct {
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
}
