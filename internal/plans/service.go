package plans

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
)

// Storage is the persistence surface the pipeline stages use. *Store is the
// production implementation; tests substitute an in-memory one.
type Storage interface {
	CreateTopic(name string, credits int) (*models.Topic, error)
	GetTopic(id string) (*models.Topic, error)
	RenameTopic(id, name string) error

	InsertSubtopic(topicID, title string, seq int, status models.SubtopicStatus) (string, error)
	GetSubtopic(id string) (*models.Subtopic, error)
	ListSubtopics(topicID string) ([]models.Subtopic, error)
	ReviseSubtopic(id, title string, seq int, status models.SubtopicStatus) error
	DeleteSubtopic(id string) error
	UpdateSubtopicStatus(id string, status models.SubtopicStatus) error
	UpdateCoverage(id string, score int, contentStatus models.ContentStatus, note string) error
	AppendCoverageNote(id, note string) error
	SetCaseAmenability(id string, amenable bool, confidence int, caseStatus models.CaseStatus) error
	UpdateCaseStatus(id string, caseStatus models.CaseStatus) error
	CountCaseBudget(topicID string, statuses []models.CaseStatus) (int, error)
	ListCaseCandidates(topicID string, limit int) ([]models.Subtopic, error)
	CountSubtopics(topicID string) (int, error)

	SaveConcept(subtopicID, content, note string) (string, error)
	GetConcept(subtopicID string) (*models.Concept, error)
	SiblingConcepts(topicID, exceptSubtopicID string) (map[string]string, error)

	SaveReference(ref models.Reference) (string, error)
	LinkSubtopicReference(subtopicID, referenceID string) error
	ListSubtopicReferences(subtopicID string) ([]models.Reference, error)
	ListQuestionReferences(questionID string) ([]models.Reference, error)

	SaveQuestions(ctx context.Context, qs []SavedQuestion) ([]string, error)
	CountSubtopicQuestions(subtopicID string) (int, error)
	CaseHasQuestions(caseID string) (bool, error)
	ListQuestions(subtopicID string, caseID *string) ([]models.Question, error)
	ListChoices(questionID string) ([]models.Choice, error)
	ListVariants(questionID string) ([]models.Variant, error)

	SaveCase(c models.Case) (string, error)
	GetCase(id string) (*models.Case, error)
	ListCases(subtopicID string) ([]models.Case, error)
	CaseExistsByVignette(subtopicID, vignette string) (bool, error)
	SetCaseVerified(id string, verified bool, qaSummary string) error

	ReplaceContentGaps(ctx context.Context, topicID string, gaps []models.ContentGap) error
	ListContentGaps(topicID string) ([]models.ContentGap, error)
	LogFailure(stage, entityID, reason string) error
	CountFailures(stage, entityID, reason string) (int, error)
	SaveQAReview(entityType, entityID, status, issues, suggestedFix string) error

	UpsertStudyPlan(topicID string, doc *models.PlanDocument) error
	GetStudyPlan(topicID string) (*models.PlanDocument, error)
}

var _ Storage = (*Store)(nil)

// Config carries the pipeline thresholds. Defaults match the values the
// content team has validated; envs exist for tuning without a rebuild.
type Config struct {
	MinSubtopics       int
	MaxSubtopics       int
	CoverageMinChars   int
	MaxSourceChars     int
	SoftMinSourceChars int
	MinConceptChars    int
	RelevanceMinHits   int
	DupSimThreshold    float64

	CaseMinConfidence   int
	CaseMaxFraction     float64
	CaseRebalanceLimit  int
	MaxMCQsPerSubtopic  int
	MCQMaxAttempts      int
	VignetteStitchChars int

	AssembleDelay        time.Duration
	AssembleDupThreshold float64
	EvalRequireMCQs      bool
	BoilerplateMinFreq   int
}

func LoadConfig() Config {
	return Config{
		MinSubtopics:       envInt("PLAN_MIN_SUBTOPICS", 22),
		MaxSubtopics:       envInt("PLAN_MAX_SUBTOPICS", 40),
		CoverageMinChars:   envInt("PLAN_COVERAGE_MIN_CHARS", 1200),
		MaxSourceChars:     envInt("PLAN_MAX_SOURCE_CHARS", 4500),
		SoftMinSourceChars: envInt("PLAN_SOFT_MIN_SOURCE_CHARS", 250),
		MinConceptChars:    envInt("PLAN_MIN_CONCEPT_CHARS", 400),
		RelevanceMinHits:   envInt("PLAN_RELEVANCE_MIN_HITS", 2),
		DupSimThreshold:    envFloat("PLAN_DUP_SIM_THRESHOLD", 0.92),

		CaseMinConfidence:   envInt("PLAN_CASE_MIN_CONFIDENCE", 55),
		CaseMaxFraction:     envFloat("PLAN_CASE_MAX_FRACTION", 0.5),
		CaseRebalanceLimit:  envInt("PLAN_CASE_REBALANCE_LIMIT", 28),
		MaxMCQsPerSubtopic:  envInt("PLAN_MAX_MCQS_PER_SUBTOPIC", 3),
		MCQMaxAttempts:      envInt("PLAN_MCQ_MAX_ATTEMPTS", 4),
		VignetteStitchChars: envInt("PLAN_VIGNETTE_STITCH_CHARS", 18000),

		AssembleDelay:        time.Duration(envInt("PLAN_ASSEMBLE_DELAY_SECONDS", 120)) * time.Second,
		AssembleDupThreshold: envFloat("PLAN_ASSEMBLE_DUP_THRESHOLD", 0.90),
		EvalRequireMCQs:      os.Getenv("PLAN_EVAL_REQUIRE_MCQS") == "true",
		BoilerplateMinFreq:   envInt("PLAN_BOILERPLATE_MIN_FREQ", 3),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Service runs the study-plan pipeline. Every dependency is injected; there
// are no package-level singletons.
type Service struct {
	store     Storage
	gen       *generator.Generator
	broker    queue.Broker
	retriever *search.Retriever
	cfg       Config
}

func NewService(store Storage, gen *generator.Generator, broker queue.Broker, retriever *search.Retriever, cfg Config) *Service {
	return &Service{store: store, gen: gen, broker: broker, retriever: retriever, cfg: cfg}
}

// NewServiceFromDB wires the production dependencies.
func NewServiceFromDB(db *sql.DB, gen *generator.Generator, broker queue.Broker, idx search.Index, cfg Config) *Service {
	return NewService(NewStore(db), gen, broker, search.NewRetriever(idx), cfg)
}

// RegisterWorkers binds every pipeline stage to its queue.
func (s *Service) RegisterWorkers(w *queue.Worker) {
	w.Handle(models.TopicQueue, "topic_id", s.GenerateSubtopics)
	w.Handle(models.SubtopicQueue, "subtopic_id", s.HarvestReferences)
	w.Handle(models.ConceptQueue, "subtopic_id", s.GenerateConcept)
	w.Handle(models.MCQQueue, "subtopic_id", s.GenerateMCQs)
	w.Handle(models.CaseQueue, "subtopic_id", s.GenerateCase)
	w.Handle(models.CaseMCQQueue, "case_id", s.GenerateCaseMCQs)
	w.Handle(models.VerifyQueue, "case_id", s.VerifyCaseBundle)
	w.Handle(models.PlanQueue, "topic_id", s.AssemblePlan)
}
