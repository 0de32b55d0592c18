package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/admin-masters/Ai-cme/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ── Topics ──────────────────────────────────────────────

func (s *Store) CreateTopic(name string, credits int) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRow(
		`INSERT INTO topics (id, name, credits)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, credits, created_at`,
		uuid.NewString(), name, credits,
	).Scan(&t.ID, &t.Name, &t.Credits, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTopic(id string) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRow(
		`SELECT id, name, credits, created_at FROM topics WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Credits, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

// RenameTopic writes back the resolved corpus label for a free-text topic.
func (s *Store) RenameTopic(id, name string) error {
	_, err := s.db.Exec(`UPDATE topics SET name = $1 WHERE id = $2`, name, id)
	return err
}

// ── Subtopics ───────────────────────────────────────────

func (s *Store) InsertSubtopic(topicID, title string, seq int, status models.SubtopicStatus) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO subtopics (id, topic_id, title, sequence_no, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, topicID, title, seq, status,
	)
	if err != nil {
		return "", fmt.Errorf("insert subtopic: %w", err)
	}
	return id, nil
}

func (s *Store) GetSubtopic(id string) (*models.Subtopic, error) {
	var st models.Subtopic
	err := s.db.QueryRow(
		`SELECT id, topic_id, title, sequence_no, status, case_amenable, case_confidence,
		        COALESCE(case_status, ''), coverage_score, COALESCE(content_status, ''),
		        COALESCE(coverage_note, '')
		 FROM subtopics WHERE id = $1`, id,
	).Scan(&st.ID, &st.TopicID, &st.Title, &st.SequenceNo, &st.Status, &st.CaseAmenable,
		&st.CaseConfidence, &st.CaseStatus, &st.CoverageScore, &st.ContentStatus, &st.CoverageNote)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subtopic: %w", err)
	}
	return &st, nil
}

func (s *Store) ListSubtopics(topicID string) ([]models.Subtopic, error) {
	rows, err := s.db.Query(
		`SELECT id, topic_id, title, sequence_no, status, case_amenable, case_confidence,
		        COALESCE(case_status, ''), coverage_score, COALESCE(content_status, ''),
		        COALESCE(coverage_note, '')
		 FROM subtopics WHERE topic_id = $1 ORDER BY sequence_no, id`, topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtopics: %w", err)
	}
	defer rows.Close()

	var out []models.Subtopic
	for rows.Next() {
		var st models.Subtopic
		if err := rows.Scan(&st.ID, &st.TopicID, &st.Title, &st.SequenceNo, &st.Status,
			&st.CaseAmenable, &st.CaseConfidence, &st.CaseStatus, &st.CoverageScore,
			&st.ContentStatus, &st.CoverageNote); err != nil {
			return nil, fmt.Errorf("scan subtopic: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ReviseSubtopic rewrites a placeholder row with its final outline slot.
func (s *Store) ReviseSubtopic(id, title string, seq int, status models.SubtopicStatus) error {
	_, err := s.db.Exec(
		`UPDATE subtopics SET title = $1, sequence_no = $2, status = $3 WHERE id = $4`,
		title, seq, status, id,
	)
	return err
}

func (s *Store) DeleteSubtopic(id string) error {
	_, err := s.db.Exec(`DELETE FROM subtopics WHERE id = $1`, id)
	return err
}

func (s *Store) UpdateSubtopicStatus(id string, status models.SubtopicStatus) error {
	_, err := s.db.Exec(`UPDATE subtopics SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (s *Store) UpdateCoverage(id string, score int, contentStatus models.ContentStatus, note string) error {
	_, err := s.db.Exec(
		`UPDATE subtopics SET coverage_score = $1, content_status = $2, coverage_note = $3 WHERE id = $4`,
		score, contentStatus, note, id,
	)
	return err
}

func (s *Store) AppendCoverageNote(id, note string) error {
	_, err := s.db.Exec(
		`UPDATE subtopics
		 SET coverage_note = CASE WHEN COALESCE(coverage_note, '') = '' THEN $1
		                          ELSE coverage_note || '; ' || $1 END
		 WHERE id = $2`,
		note, id,
	)
	return err
}

func (s *Store) SetCaseAmenability(id string, amenable bool, confidence int, caseStatus models.CaseStatus) error {
	_, err := s.db.Exec(
		`UPDATE subtopics SET case_amenable = $1, case_confidence = $2, case_status = $3 WHERE id = $4`,
		amenable, confidence, caseStatus, id,
	)
	return err
}

// ListCaseCandidates returns the amenable subtopics still waiting for a case
// slot, highest confidence first.
func (s *Store) ListCaseCandidates(topicID string, limit int) ([]models.Subtopic, error) {
	rows, err := s.db.Query(
		`SELECT id, topic_id, title, sequence_no, status, case_amenable, case_confidence,
		        COALESCE(case_status, ''), coverage_score, COALESCE(content_status, ''),
		        COALESCE(coverage_note, '')
		 FROM subtopics
		 WHERE topic_id = $1 AND case_amenable = true AND case_status = $2
		 ORDER BY case_confidence DESC, sequence_no
		 LIMIT $3`,
		topicID, models.CaseCandidate, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list case candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Subtopic
	for rows.Next() {
		var st models.Subtopic
		if err := rows.Scan(&st.ID, &st.TopicID, &st.Title, &st.SequenceNo, &st.Status,
			&st.CaseAmenable, &st.CaseConfidence, &st.CaseStatus, &st.CoverageScore,
			&st.ContentStatus, &st.CoverageNote); err != nil {
			return nil, fmt.Errorf("scan case candidate: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCaseStatus(id string, caseStatus models.CaseStatus) error {
	_, err := s.db.Exec(`UPDATE subtopics SET case_status = $1 WHERE id = $2`, caseStatus, id)
	return err
}

// CountCaseBudget counts subtopics holding a case slot in the given statuses.
func (s *Store) CountCaseBudget(topicID string, statuses []models.CaseStatus) (int, error) {
	placeholders := make([]string, len(statuses))
	args := []interface{}{topicID}
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, st)
	}
	var count int
	err := s.db.QueryRow(
		fmt.Sprintf(`SELECT COUNT(*) FROM subtopics
		 WHERE topic_id = $1 AND case_amenable = true AND case_status IN (%s)`,
			strings.Join(placeholders, ",")),
		args...,
	).Scan(&count)
	return count, err
}

func (s *Store) CountSubtopics(topicID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM subtopics WHERE topic_id = $1`, topicID).Scan(&count)
	return count, err
}

// ── Concepts ────────────────────────────────────────────

func (s *Store) SaveConcept(subtopicID, content, note string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO concepts (id, subtopic_id, content, coverage_note)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subtopic_id)
		 DO UPDATE SET content = $3, coverage_note = $4, created_at = NOW()`,
		id, subtopicID, content, note,
	)
	if err != nil {
		return "", fmt.Errorf("save concept: %w", err)
	}
	return id, nil
}

func (s *Store) GetConcept(subtopicID string) (*models.Concept, error) {
	var c models.Concept
	err := s.db.QueryRow(
		`SELECT id, subtopic_id, content, COALESCE(coverage_note, ''), created_at
		 FROM concepts WHERE subtopic_id = $1`, subtopicID,
	).Scan(&c.ID, &c.SubtopicID, &c.Content, &c.CoverageNote, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get concept: %w", err)
	}
	return &c, nil
}

// SiblingConcepts returns the stored concepts of a topic's other subtopics,
// keyed by subtopic id.
func (s *Store) SiblingConcepts(topicID, exceptSubtopicID string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT c.subtopic_id, c.content
		 FROM concepts c JOIN subtopics st ON st.id = c.subtopic_id
		 WHERE st.topic_id = $1 AND c.subtopic_id <> $2`,
		topicID, exceptSubtopicID,
	)
	if err != nil {
		return nil, fmt.Errorf("sibling concepts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = content
	}
	return out, rows.Err()
}

// ── References ──────────────────────────────────────────

// SaveReference inserts a reference if its content hash is new and returns the
// row id either way.
func (s *Store) SaveReference(ref models.Reference) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO references_catalog (id, source_id, citation_link, excerpt)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (source_id) DO NOTHING`,
		id, ref.SourceID, ref.CitationLink, ref.Excerpt,
	)
	if err != nil {
		return "", fmt.Errorf("save reference: %w", err)
	}
	err = s.db.QueryRow(
		`SELECT id FROM references_catalog WHERE source_id = $1`, ref.SourceID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("lookup reference: %w", err)
	}
	return id, nil
}

func (s *Store) LinkSubtopicReference(subtopicID, referenceID string) error {
	_, err := s.db.Exec(
		`INSERT INTO subtopic_references (subtopic_id, reference_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		subtopicID, referenceID,
	)
	return err
}

func (s *Store) ListSubtopicReferences(subtopicID string) ([]models.Reference, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.source_id, r.citation_link, r.excerpt
		 FROM references_catalog r
		 JOIN subtopic_references sr ON sr.reference_id = r.id
		 WHERE sr.subtopic_id = $1 ORDER BY r.citation_link`,
		subtopicID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtopic references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// CopyReferencesToQuestion links a question to every reference of its subtopic.
func (s *Store) CopyReferencesToQuestion(tx *sql.Tx, questionID, subtopicID string) error {
	_, err := tx.Exec(
		`INSERT INTO question_references (question_id, reference_id)
		 SELECT $1, reference_id FROM subtopic_references WHERE subtopic_id = $2
		 ON CONFLICT DO NOTHING`,
		questionID, subtopicID,
	)
	return err
}

func (s *Store) ListQuestionReferences(questionID string) ([]models.Reference, error) {
	rows, err := s.db.Query(
		`SELECT r.id, r.source_id, r.citation_link, r.excerpt
		 FROM references_catalog r
		 JOIN question_references qr ON qr.reference_id = r.id
		 WHERE qr.question_id = $1 ORDER BY r.citation_link`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list question references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

func scanReferences(rows *sql.Rows) ([]models.Reference, error) {
	var out []models.Reference
	for rows.Next() {
		var r models.Reference
		if err := rows.Scan(&r.ID, &r.SourceID, &r.CitationLink, &r.Excerpt); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Questions ───────────────────────────────────────────

// SavedQuestion bundles a question with its choices and stem variants for a
// single transactional insert.
type SavedQuestion struct {
	SubtopicID    string
	CaseID        *string
	Stem          string
	CorrectChoice string
	Explanation   string
	Choices       []models.Choice
	Variants      []models.Variant
}

// SaveQuestions persists a batch of questions atomically. Subtopic-owned
// questions also inherit their subtopic's reference links.
func (s *Store) SaveQuestions(ctx context.Context, qs []SavedQuestion) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		id := uuid.NewString()
		_, err := tx.Exec(
			`INSERT INTO questions (id, subtopic_id, case_id, stem, correct_choice, explanation)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, q.SubtopicID, q.CaseID, q.Stem, q.CorrectChoice, q.Explanation,
		)
		if err != nil {
			return nil, fmt.Errorf("insert question: %w", err)
		}
		for _, c := range q.Choices {
			_, err := tx.Exec(
				`INSERT INTO choices (id, question_id, choice_index, choice_text, rationale)
				 VALUES ($1, $2, $3, $4, $5)`,
				uuid.NewString(), id, c.ChoiceIndex, c.ChoiceText, c.Rationale,
			)
			if err != nil {
				return nil, fmt.Errorf("insert choice: %w", err)
			}
		}
		for _, v := range q.Variants {
			_, err := tx.Exec(
				`INSERT INTO variants (id, question_id, variant_no, stem, correct_choice_index)
				 VALUES ($1, $2, $3, $4, $5)`,
				uuid.NewString(), id, v.VariantNo, v.Stem, v.CorrectChoiceIndex,
			)
			if err != nil {
				return nil, fmt.Errorf("insert variant: %w", err)
			}
		}
		if q.CaseID == nil {
			if err := s.CopyReferencesToQuestion(tx, id, q.SubtopicID); err != nil {
				return nil, fmt.Errorf("copy references: %w", err)
			}
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit questions: %w", err)
	}
	return ids, nil
}

func (s *Store) CountSubtopicQuestions(subtopicID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM questions WHERE subtopic_id = $1 AND case_id IS NULL`,
		subtopicID,
	).Scan(&count)
	return count, err
}

func (s *Store) CaseHasQuestions(caseID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM questions WHERE case_id = $1)`, caseID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) ListQuestions(subtopicID string, caseID *string) ([]models.Question, error) {
	var rows *sql.Rows
	var err error
	cols := `id, subtopic_id, case_id, stem, correct_choice, explanation`
	if caseID != nil {
		rows, err = s.db.Query(
			fmt.Sprintf(`SELECT %s FROM questions WHERE case_id = $1 ORDER BY created_at, id`, cols),
			*caseID,
		)
	} else {
		rows, err = s.db.Query(
			fmt.Sprintf(`SELECT %s FROM questions WHERE subtopic_id = $1 AND case_id IS NULL ORDER BY created_at, id`, cols),
			subtopicID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.SubtopicID, &q.CaseID, &q.Stem, &q.CorrectChoice, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) ListChoices(questionID string) ([]models.Choice, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, choice_index, choice_text, rationale
		 FROM choices WHERE question_id = $1 ORDER BY choice_index`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list choices: %w", err)
	}
	defer rows.Close()

	var out []models.Choice
	for rows.Next() {
		var c models.Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.ChoiceIndex, &c.ChoiceText, &c.Rationale); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListVariants(questionID string) ([]models.Variant, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, variant_no, stem, correct_choice_index
		 FROM variants WHERE question_id = $1 ORDER BY variant_no`,
		questionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []models.Variant
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ID, &v.QuestionID, &v.VariantNo, &v.Stem, &v.CorrectChoiceIndex); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ── Cases ───────────────────────────────────────────────

func (s *Store) SaveCase(c models.Case) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO cases (id, subtopic_id, title, vignette, word_count, learning_objective)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, c.SubtopicID, c.Title, c.Vignette, c.WordCount, c.LearningObjective,
	)
	if err != nil {
		return "", fmt.Errorf("save case: %w", err)
	}
	return id, nil
}

func (s *Store) GetCase(id string) (*models.Case, error) {
	var c models.Case
	err := s.db.QueryRow(
		`SELECT id, subtopic_id, title, vignette, word_count, learning_objective,
		        verified, COALESCE(qa_summary, ''), created_at
		 FROM cases WHERE id = $1`, id,
	).Scan(&c.ID, &c.SubtopicID, &c.Title, &c.Vignette, &c.WordCount,
		&c.LearningObjective, &c.Verified, &c.QASummary, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCases(subtopicID string) ([]models.Case, error) {
	rows, err := s.db.Query(
		`SELECT id, subtopic_id, title, vignette, word_count, learning_objective,
		        verified, COALESCE(qa_summary, ''), created_at
		 FROM cases WHERE subtopic_id = $1 ORDER BY created_at, id`, subtopicID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []models.Case
	for rows.Next() {
		var c models.Case
		if err := rows.Scan(&c.ID, &c.SubtopicID, &c.Title, &c.Vignette, &c.WordCount,
			&c.LearningObjective, &c.Verified, &c.QASummary, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CaseExistsByVignette(subtopicID, vignette string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM cases WHERE subtopic_id = $1 AND vignette = $2)`,
		subtopicID, vignette,
	).Scan(&exists)
	return exists, err
}

func (s *Store) SetCaseVerified(id string, verified bool, qaSummary string) error {
	_, err := s.db.Exec(
		`UPDATE cases SET verified = $1, qa_summary = $2 WHERE id = $3`,
		verified, qaSummary, id,
	)
	return err
}

// ── Gaps, failures, reviews ─────────────────────────────

// ReplaceContentGaps rewrites a topic's gap list atomically.
func (s *Store) ReplaceContentGaps(ctx context.Context, topicID string, gaps []models.ContentGap) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM content_gaps WHERE topic_id = $1`, topicID); err != nil {
		return fmt.Errorf("clear gaps: %w", err)
	}
	for _, g := range gaps {
		_, err := tx.Exec(
			`INSERT INTO content_gaps (topic_id, subtopic_id, subtopic_title, coverage_score, reason)
			 VALUES ($1, $2, $3, $4, $5)`,
			topicID, g.SubtopicID, g.SubtopicTitle, g.CoverageScore, g.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert gap: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListContentGaps(topicID string) ([]models.ContentGap, error) {
	rows, err := s.db.Query(
		`SELECT topic_id, subtopic_id, subtopic_title, coverage_score, reason
		 FROM content_gaps WHERE topic_id = $1 ORDER BY coverage_score`, topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	defer rows.Close()

	var out []models.ContentGap
	for rows.Next() {
		var g models.ContentGap
		if err := rows.Scan(&g.TopicID, &g.SubtopicID, &g.SubtopicTitle, &g.CoverageScore, &g.Reason); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) LogFailure(stage, entityID, reason string) error {
	_, err := s.db.Exec(
		`INSERT INTO fail_log (stage, entity_id, reason) VALUES ($1, $2, $3)`,
		stage, entityID, reason,
	)
	return err
}

// CountFailures is used to make "requeue once" decisions durable across
// worker restarts.
func (s *Store) CountFailures(stage, entityID, reason string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM fail_log WHERE stage = $1 AND entity_id = $2 AND reason = $3`,
		stage, entityID, reason,
	).Scan(&count)
	return count, err
}

func (s *Store) SaveQAReview(entityType, entityID, status, issues, suggestedFix string) error {
	_, err := s.db.Exec(
		`INSERT INTO qa_reviews (id, entity_type, entity_id, status, issues, suggested_fix)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), entityType, entityID, status, issues, suggestedFix,
	)
	return err
}

// ── Study plans ─────────────────────────────────────────

func (s *Store) UpsertStudyPlan(topicID string, doc *models.PlanDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO study_plans (topic_id, document)
		 VALUES ($1, $2)
		 ON CONFLICT (topic_id) DO UPDATE SET document = $2, assembled_at = NOW()`,
		topicID, body,
	)
	if err != nil {
		return fmt.Errorf("upsert study plan: %w", err)
	}
	return nil
}

func (s *Store) GetStudyPlan(topicID string) (*models.PlanDocument, error) {
	var body []byte
	err := s.db.QueryRow(
		`SELECT document FROM study_plans WHERE topic_id = $1`, topicID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get study plan: %w", err)
	}
	var doc models.PlanDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode study plan: %w", err)
	}
	return &doc, nil
}
