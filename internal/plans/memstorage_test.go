package plans

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/admin-masters/Ai-cme/internal/models"
)

// memStorage is an in-memory Storage used by the pipeline tests.
type memStorage struct {
	mu sync.Mutex

	nextID int

	topics    map[string]*models.Topic
	subtopics map[string]*models.Subtopic
	concepts  map[string]*models.Concept

	refs     map[string]models.Reference
	bySource map[string]string
	subRefs  map[string][]string
	qRefs    map[string][]string

	questions map[string]models.Question
	qOrder    []string
	choices   map[string][]models.Choice
	variants  map[string][]models.Variant

	cases  map[string]*models.Case
	cOrder []string

	gaps      map[string][]models.ContentGap
	failures  []models.FailLogEntry
	qaReviews []models.QAReview
	plans     map[string]*models.PlanDocument
}

func newMemStorage() *memStorage {
	return &memStorage{
		topics:    make(map[string]*models.Topic),
		subtopics: make(map[string]*models.Subtopic),
		concepts:  make(map[string]*models.Concept),
		refs:      make(map[string]models.Reference),
		bySource:  make(map[string]string),
		subRefs:   make(map[string][]string),
		qRefs:     make(map[string][]string),
		questions: make(map[string]models.Question),
		choices:   make(map[string][]models.Choice),
		variants:  make(map[string][]models.Variant),
		cases:     make(map[string]*models.Case),
		gaps:      make(map[string][]models.ContentGap),
		plans:     make(map[string]*models.PlanDocument),
	}
}

var _ Storage = (*memStorage)(nil)

func (m *memStorage) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStorage) CreateTopic(name string, credits int) (*models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &models.Topic{ID: m.id("t"), Name: name, Credits: credits, CreatedAt: time.Now()}
	m.topics[t.ID] = t
	return t, nil
}

func (m *memStorage) GetTopic(id string) (*models.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memStorage) RenameTopic(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[id]; ok {
		t.Name = name
	}
	return nil
}

func (m *memStorage) InsertSubtopic(topicID, title string, seq int, status models.SubtopicStatus) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &models.Subtopic{ID: m.id("s"), TopicID: topicID, Title: title, SequenceNo: seq, Status: status}
	m.subtopics[st.ID] = st
	return st.ID, nil
}

func (m *memStorage) GetSubtopic(id string) (*models.Subtopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.subtopics[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *memStorage) ListSubtopics(topicID string) ([]models.Subtopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subtopic
	for _, st := range m.subtopics {
		if st.TopicID == topicID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out, nil
}

func (m *memStorage) ReviseSubtopic(id, title string, seq int, status models.SubtopicStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		st.Title, st.SequenceNo, st.Status = title, seq, status
	}
	return nil
}

func (m *memStorage) DeleteSubtopic(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subtopics, id)
	return nil
}

func (m *memStorage) UpdateSubtopicStatus(id string, status models.SubtopicStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		st.Status = status
	}
	return nil
}

func (m *memStorage) UpdateCoverage(id string, score int, contentStatus models.ContentStatus, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		st.CoverageScore = score
		st.ContentStatus = contentStatus
		st.CoverageNote = note
	}
	return nil
}

func (m *memStorage) AppendCoverageNote(id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		if st.CoverageNote == "" {
			st.CoverageNote = note
		} else {
			st.CoverageNote += "; " + note
		}
	}
	return nil
}

func (m *memStorage) SetCaseAmenability(id string, amenable bool, confidence int, caseStatus models.CaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		st.CaseAmenable = amenable
		st.CaseConfidence = confidence
		st.CaseStatus = caseStatus
	}
	return nil
}

func (m *memStorage) UpdateCaseStatus(id string, caseStatus models.CaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.subtopics[id]; ok {
		st.CaseStatus = caseStatus
	}
	return nil
}

func (m *memStorage) CountCaseBudget(topicID string, statuses []models.CaseStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[models.CaseStatus]bool)
	for _, s := range statuses {
		want[s] = true
	}
	n := 0
	for _, st := range m.subtopics {
		if st.TopicID == topicID && want[st.CaseStatus] {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) ListCaseCandidates(topicID string, limit int) ([]models.Subtopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subtopic
	for _, st := range m.subtopics {
		if st.TopicID == topicID && st.CaseStatus == models.CaseCandidate {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CaseConfidence != out[j].CaseConfidence {
			return out[i].CaseConfidence > out[j].CaseConfidence
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStorage) CountSubtopics(topicID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.subtopics {
		if st.TopicID == topicID {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) SaveConcept(subtopicID, content, note string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Concept{ID: m.id("c"), SubtopicID: subtopicID, Content: content, CoverageNote: note, CreatedAt: time.Now()}
	m.concepts[subtopicID] = c
	return c.ID, nil
}

func (m *memStorage) GetConcept(subtopicID string) (*models.Concept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concepts[subtopicID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStorage) SiblingConcepts(topicID, exceptSubtopicID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for sid, c := range m.concepts {
		st, ok := m.subtopics[sid]
		if !ok || st.TopicID != topicID || sid == exceptSubtopicID {
			continue
		}
		out[sid] = c.Content
	}
	return out, nil
}

func (m *memStorage) SaveReference(ref models.Reference) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.bySource[ref.SourceID]; ok {
		return id, nil
	}
	ref.ID = m.id("r")
	m.refs[ref.ID] = ref
	m.bySource[ref.SourceID] = ref.ID
	return ref.ID, nil
}

func (m *memStorage) LinkSubtopicReference(subtopicID, referenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.subRefs[subtopicID] {
		if id == referenceID {
			return nil
		}
	}
	m.subRefs[subtopicID] = append(m.subRefs[subtopicID], referenceID)
	return nil
}

func (m *memStorage) ListSubtopicReferences(subtopicID string) ([]models.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reference
	for _, id := range m.subRefs[subtopicID] {
		out = append(out, m.refs[id])
	}
	return out, nil
}

func (m *memStorage) ListQuestionReferences(questionID string) ([]models.Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reference
	for _, id := range m.qRefs[questionID] {
		out = append(out, m.refs[id])
	}
	return out, nil
}

func (m *memStorage) SaveQuestions(ctx context.Context, qs []SavedQuestion) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, sq := range qs {
		qid := m.id("q")
		m.questions[qid] = models.Question{
			ID:            qid,
			SubtopicID:    sq.SubtopicID,
			CaseID:        sq.CaseID,
			Stem:          sq.Stem,
			CorrectChoice: sq.CorrectChoice,
			Explanation:   sq.Explanation,
		}
		m.qOrder = append(m.qOrder, qid)
		for _, ch := range sq.Choices {
			ch.QuestionID = qid
			m.choices[qid] = append(m.choices[qid], ch)
		}
		for _, v := range sq.Variants {
			v.QuestionID = qid
			m.variants[qid] = append(m.variants[qid], v)
		}
		if sq.CaseID == nil {
			m.qRefs[qid] = append([]string(nil), m.subRefs[sq.SubtopicID]...)
		}
		ids = append(ids, qid)
	}
	return ids, nil
}

func (m *memStorage) CountSubtopicQuestions(subtopicID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.questions {
		if q.SubtopicID == subtopicID && q.CaseID == nil {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) CaseHasQuestions(caseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.CaseID != nil && *q.CaseID == caseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStorage) ListQuestions(subtopicID string, caseID *string) ([]models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Question
	for _, qid := range m.qOrder {
		q := m.questions[qid]
		if q.SubtopicID != subtopicID {
			continue
		}
		if caseID == nil {
			if q.CaseID != nil {
				continue
			}
		} else if q.CaseID == nil || *q.CaseID != *caseID {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memStorage) ListChoices(questionID string) ([]models.Choice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Choice(nil), m.choices[questionID]...), nil
}

func (m *memStorage) ListVariants(questionID string) ([]models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Variant(nil), m.variants[questionID]...), nil
}

func (m *memStorage) SaveCase(c models.Case) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id("case")
	c.CreatedAt = time.Now()
	m.cases[c.ID] = &c
	m.cOrder = append(m.cOrder, c.ID)
	return c.ID, nil
}

func (m *memStorage) GetCase(id string) (*models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStorage) ListCases(subtopicID string) ([]models.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Case
	for _, id := range m.cOrder {
		if c := m.cases[id]; c.SubtopicID == subtopicID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStorage) CaseExistsByVignette(subtopicID, vignette string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.SubtopicID == subtopicID && c.Vignette == vignette {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStorage) SetCaseVerified(id string, verified bool, qaSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[id]; ok {
		v := verified
		c.Verified = &v
		c.QASummary = qaSummary
	}
	return nil
}

func (m *memStorage) ReplaceContentGaps(ctx context.Context, topicID string, gaps []models.ContentGap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps[topicID] = append([]models.ContentGap(nil), gaps...)
	return nil
}

func (m *memStorage) ListContentGaps(topicID string) ([]models.ContentGap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ContentGap(nil), m.gaps[topicID]...), nil
}

func (m *memStorage) LogFailure(stage, entityID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, models.FailLogEntry{Stage: stage, EntityID: entityID, Reason: reason})
	return nil
}

func (m *memStorage) CountFailures(stage, entityID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.failures {
		if f.Stage == stage && f.EntityID == entityID && f.Reason == reason {
			n++
		}
	}
	return n, nil
}

func (m *memStorage) SaveQAReview(entityType, entityID, status, issues, suggestedFix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qaReviews = append(m.qaReviews, models.QAReview{
		ID: m.id("qa"), EntityType: entityType, EntityID: entityID,
		Status: status, Issues: issues, SuggestedFix: suggestedFix,
	})
	return nil
}

func (m *memStorage) UpsertStudyPlan(topicID string, doc *models.PlanDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.plans[topicID] = &cp
	return nil
}

func (m *memStorage) GetStudyPlan(topicID string) (*models.PlanDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.plans[topicID]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}
