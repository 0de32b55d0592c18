package plans

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
)

func testConfig() Config {
	cfg := LoadConfig()
	cfg.AssembleDelay = 5 * time.Millisecond
	return cfg
}

func newTestService(store Storage, broker queue.Broker, idx search.Index) *Service {
	gen := generator.NewGeneratorWith(generator.NewMockClient())
	return NewService(store, gen, broker, search.NewRetriever(idx), testConfig())
}

// drainPipeline plays the worker role: it pops and dispatches messages from
// every queue until the system stays idle, giving delayed messages time to
// become visible.
func drainPipeline(t *testing.T, s *Service, broker *queue.MemBroker) {
	t.Helper()
	ctx := context.Background()
	type route struct {
		queueName string
		idField   string
		fn        func(context.Context, string) error
	}
	routes := []route{
		{models.TopicQueue, "topic_id", s.GenerateSubtopics},
		{models.SubtopicQueue, "subtopic_id", s.HarvestReferences},
		{models.ConceptQueue, "subtopic_id", s.GenerateConcept},
		{models.MCQQueue, "subtopic_id", s.GenerateMCQs},
		{models.CaseQueue, "subtopic_id", s.GenerateCase},
		{models.CaseMCQQueue, "case_id", s.GenerateCaseMCQs},
		{models.VerifyQueue, "case_id", s.VerifyCaseBundle},
		{models.PlanQueue, "topic_id", s.AssemblePlan},
	}

	idleRounds := 0
	for round := 0; round < 500; round++ {
		worked := false
		for _, r := range routes {
			for {
				body, err := broker.Pop(ctx, r.queueName)
				if err == queue.ErrEmpty {
					break
				}
				if err != nil {
					t.Fatalf("pop %s: %v", r.queueName, err)
				}
				var payload map[string]string
				if err := json.Unmarshal(body, &payload); err != nil {
					t.Fatalf("decode %s payload: %v", r.queueName, err)
				}
				if err := r.fn(ctx, payload[r.idField]); err != nil {
					t.Fatalf("%s handler: %v", r.queueName, err)
				}
				worked = true
			}
		}
		if worked {
			idleRounds = 0
			continue
		}
		idleRounds++
		if idleRounds >= 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline did not settle")
}

func choleraDoc(subtopic, seq, sentence string) search.Document {
	return search.Document{
		ID:       "d-" + seq,
		Topic:    "Cholera in Children",
		Subtopic: subtopic,
		Sequence: seq,
		Content:  strings.Repeat(sentence+" ", 30),
		References: []string{
			"WHO. Cholera treatment guideline. [link](https://example.org/cholera)",
		},
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	idx := search.NewMemIndex(
		choleraDoc("Assessment of Dehydration", "1", "Assessment of dehydration severity guides disposition and fluid therapy."),
		choleraDoc("Oral Rehydration Therapy", "2", "Oral rehydration therapy is the first-line treatment for most children."),
	)
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, idx)
	ctx := context.Background()

	topic, seeded, err := svc.EnqueueTopic(ctx, "Cholera in Children", 2)
	if err != nil {
		t.Fatalf("EnqueueTopic: %v", err)
	}
	if seeded != svc.cfg.MinSubtopics {
		t.Fatalf("seeded = %d, want %d", seeded, svc.cfg.MinSubtopics)
	}
	drainPipeline(t, svc, broker)

	resp, err := svc.EnqueueSubtopics(ctx, topic.ID)
	if err != nil {
		t.Fatalf("EnqueueSubtopics: %v", err)
	}
	if resp.Queued != 2 || resp.SkippedLowCoverage != 0 {
		t.Fatalf("enqueue response = %+v", resp)
	}
	drainPipeline(t, svc, broker)

	subs, _ := store.ListSubtopics(topic.ID)
	if len(subs) != 2 {
		t.Fatalf("got %d subtopics, want 2", len(subs))
	}
	casesSeen := 0
	for _, st := range subs {
		if st.Status != models.StatusMCQReady {
			t.Errorf("subtopic %q status = %s, want mcq_ready", st.Title, st.Status)
		}
		n, _ := store.CountSubtopicQuestions(st.ID)
		if n != 2 {
			t.Errorf("subtopic %q has %d questions, want 2", st.Title, n)
		}
		cases, _ := store.ListCases(st.ID)
		for _, c := range cases {
			casesSeen++
			if c.Verified == nil || !*c.Verified {
				t.Errorf("case %q not verified", c.Title)
			}
		}
		if len(cases) > 0 && st.CaseStatus != models.CaseVerified {
			t.Errorf("subtopic %q case status = %s, want verified", st.Title, st.CaseStatus)
		}
	}
	// cap = floor(2 * 0.5): exactly one subtopic carries a case
	if casesSeen != 1 {
		t.Fatalf("got %d cases, want 1", casesSeen)
	}

	doc, err := store.GetStudyPlan(topic.ID)
	if err != nil {
		t.Fatalf("GetStudyPlan: %v", err)
	}
	if doc == nil {
		t.Fatal("plan document not assembled")
	}
	if len(doc.Subtopics) != 2 {
		t.Fatalf("plan has %d subtopics, want 2", len(doc.Subtopics))
	}
	planCases := 0
	for _, ps := range doc.Subtopics {
		if ps.Concept == "" {
			t.Errorf("plan subtopic %q has empty concept", ps.SubtopicTitle)
		}
		if len(ps.References) == 0 {
			t.Errorf("plan subtopic %q has no references", ps.SubtopicTitle)
		}
		if ps.ContentStatus != string(models.ContentOK) {
			t.Errorf("plan subtopic %q content status = %s", ps.SubtopicTitle, ps.ContentStatus)
		}
		for _, q := range ps.Questions {
			if len(q.Choices) != 4 {
				t.Errorf("question %s has %d choices", q.QuestionID, len(q.Choices))
			}
			if len(q.Variants) != 2 {
				t.Errorf("question %s has %d variants", q.QuestionID, len(q.Variants))
			}
			if len(q.References) == 0 {
				t.Errorf("question %s inherited no references", q.QuestionID)
			}
		}
		for _, pc := range ps.CaseStudies {
			planCases++
			if len(pc.MCQs) == 0 {
				t.Errorf("case %q has no questions", pc.Title)
			}
			for _, q := range pc.MCQs {
				if len(q.Variants) != 0 {
					t.Errorf("case question %s unexpectedly has variants", q.QuestionID)
				}
			}
		}
	}
	if planCases != 1 {
		t.Fatalf("plan has %d cases, want 1", planCases)
	}

	// identical mock concepts: the later subtopic carries a duplicate note
	if !strings.Contains(doc.Subtopics[1].CoverageNote, "Near-duplicate") {
		t.Errorf("second subtopic note = %q, want near-duplicate annotation", doc.Subtopics[1].CoverageNote)
	}
}

func TestEnqueueTopicSeedsMinimumPlaceholders(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, search.NewMemIndex())

	topic, seeded, err := svc.EnqueueTopic(context.Background(), "Brucellosis", 0)
	if err != nil {
		t.Fatalf("EnqueueTopic: %v", err)
	}
	if seeded != svc.cfg.MinSubtopics {
		t.Fatalf("seeded = %d, want %d even for an unindexed topic", seeded, svc.cfg.MinSubtopics)
	}
	subs, _ := store.ListSubtopics(topic.ID)
	if len(subs) != svc.cfg.MinSubtopics {
		t.Fatalf("got %d placeholder rows, want %d", len(subs), svc.cfg.MinSubtopics)
	}
	for i, st := range subs {
		if st.Status != models.StatusQueued {
			t.Errorf("subtopic %d status = %s, want queued", i, st.Status)
		}
		if st.SequenceNo != i+1 {
			t.Errorf("subtopic %d sequence = %d, want %d", i, st.SequenceNo, i+1)
		}
	}
	if broker.Len(models.TopicQueue) != 1 {
		t.Fatalf("topic queue len = %d, want 1", broker.Len(models.TopicQueue))
	}
}

func TestEnqueueTopicSeedsOutlineTitlesFirst(t *testing.T) {
	idx := search.NewMemIndex(
		choleraDoc("Assessment of Dehydration", "1", "Assessment guides disposition."),
		choleraDoc("Oral Rehydration Therapy", "2", "First-line treatment for most children."),
	)
	store := newMemStorage()
	svc := newTestService(store, queue.NewMemBroker(), idx)

	topic, seeded, err := svc.EnqueueTopic(context.Background(), "Cholera in Children", 0)
	if err != nil {
		t.Fatalf("EnqueueTopic: %v", err)
	}
	if seeded != svc.cfg.MinSubtopics {
		t.Fatalf("seeded = %d, want %d", seeded, svc.cfg.MinSubtopics)
	}
	subs, _ := store.ListSubtopics(topic.ID)
	if subs[0].Title != "Assessment of Dehydration" || subs[1].Title != "Oral Rehydration Therapy" {
		t.Fatalf("indexed titles not seeded first: %q, %q", subs[0].Title, subs[1].Title)
	}
	if !strings.HasPrefix(subs[2].Title, "Placeholder") {
		t.Fatalf("fill row title = %q, want placeholder", subs[2].Title)
	}
}

func TestHarvestReferencesParksWithoutSources(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, search.NewMemIndex())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Measles", 0)
	id, _ := store.InsertSubtopic(topic.ID, "Rash Progression", 1, models.StatusRefsPending)

	if err := svc.HarvestReferences(ctx, id); err != nil {
		t.Fatalf("HarvestReferences: %v", err)
	}
	st, _ := store.GetSubtopic(id)
	if st.Status != models.StatusRefsMissing {
		t.Fatalf("status = %s, want refs_missing", st.Status)
	}
	if !strings.Contains(st.CoverageNote, "no source references") {
		t.Fatalf("note = %q", st.CoverageNote)
	}
	if broker.Len(models.ConceptQueue) != 0 {
		t.Fatal("parked subtopic must not reach the concept queue")
	}
}

func TestHarvestReferencesIgnoresRedelivery(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, search.NewMemIndex())

	topic, _ := store.CreateTopic("Measles", 0)
	id, _ := store.InsertSubtopic(topic.ID, "Rash Progression", 1, models.StatusMCQReady)

	if err := svc.HarvestReferences(context.Background(), id); err != nil {
		t.Fatalf("HarvestReferences: %v", err)
	}
	st, _ := store.GetSubtopic(id)
	if st.Status != models.StatusMCQReady {
		t.Fatalf("redelivery changed status to %s", st.Status)
	}
}

func TestGenerateConceptSkipsShortSource(t *testing.T) {
	idx := search.NewMemIndex(search.Document{
		ID: "d1", Topic: "Measles", Subtopic: "Rash Progression",
		Sequence: "1", Content: "One short line.",
	})
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, idx)

	topic, _ := store.CreateTopic("Measles", 0)
	id, _ := store.InsertSubtopic(topic.ID, "Rash Progression", 1, models.StatusConceptPending)

	if err := svc.GenerateConcept(context.Background(), id); err != nil {
		t.Fatalf("GenerateConcept: %v", err)
	}
	st, _ := store.GetSubtopic(id)
	if st.Status != models.StatusConceptSkipped {
		t.Fatalf("status = %s, want concept_skipped", st.Status)
	}
	if !strings.Contains(st.CoverageNote, "Source text") {
		t.Fatalf("note = %q, want source-text reason", st.CoverageNote)
	}
	if broker.Len(models.MCQQueue) != 0 {
		t.Fatal("skipped subtopic must not reach the MCQ queue")
	}
}

func TestRequeueOnceDropsAfterRetry(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, search.NewMemIndex())
	ctx := context.Background()

	if err := svc.requeueOnce(ctx, "mcq", "s1", "flaky", models.MCQQueue, "subtopic_id"); err != nil {
		t.Fatalf("first requeue: %v", err)
	}
	if broker.Len(models.MCQQueue) != 1 {
		t.Fatalf("queue len = %d after first attempt, want 1", broker.Len(models.MCQQueue))
	}
	if err := svc.requeueOnce(ctx, "mcq", "s1", "flaky", models.MCQQueue, "subtopic_id"); err != nil {
		t.Fatalf("second requeue: %v", err)
	}
	if broker.Len(models.MCQQueue) != 1 {
		t.Fatalf("queue len = %d after second attempt, want 1 (dropped)", broker.Len(models.MCQQueue))
	}
	n, _ := store.CountFailures("mcq", "s1", "flaky")
	if n != 2 {
		t.Fatalf("fail log count = %d, want 2", n)
	}
}

func TestEvaluateSubtopic(t *testing.T) {
	svc := newTestService(newMemStorage(), queue.NewMemBroker(), search.NewMemIndex())
	longConcept := strings.Repeat("Plenty of generated text here. ", 20)

	tests := []struct {
		name      string
		st        models.Subtopic
		concept   string
		refs      int
		questions int
		want      models.ContentStatus
	}{
		{"healthy", models.Subtopic{Status: models.StatusMCQReady}, longConcept, 1, 2, models.ContentOK},
		{"failed stage", models.Subtopic{Status: models.StatusFailed}, longConcept, 1, 2, models.ContentInsufficient},
		{"no references", models.Subtopic{Status: models.StatusRefsMissing}, "", 0, 0, models.ContentInsufficient},
		{"stale status but no linked references", models.Subtopic{Status: models.StatusMCQReady}, longConcept, 0, 2, models.ContentInsufficient},
		{"skipped concept", models.Subtopic{Status: models.StatusConceptSkipped}, "", 0, 0, models.ContentInsufficient},
		{"short concept", models.Subtopic{Status: models.StatusMCQReady}, "too short", 1, 2, models.ContentInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := svc.evaluateSubtopic(tt.st, tt.concept, tt.refs, tt.questions)
			if got != tt.want {
				t.Fatalf("status = %s, want %s (reason %q)", got, tt.want, reason)
			}
			if got == models.ContentInsufficient && reason == "" {
				t.Fatal("insufficient status must carry a reason")
			}
		})
	}

	t.Run("questions required", func(t *testing.T) {
		svc.cfg.EvalRequireMCQs = true
		defer func() { svc.cfg.EvalRequireMCQs = false }()
		got, _ := svc.evaluateSubtopic(models.Subtopic{Status: models.StatusMCQReady}, longConcept, 1, 0)
		if got != models.ContentInsufficient {
			t.Fatalf("status = %s, want insufficient when questions are required", got)
		}
	})
}

// threeChoiceClient returns a structurally invalid question for every batch
// request and defers to the mock otherwise, so review rejects every attempt.
type threeChoiceClient struct {
	inner      generator.LLMClient
	batchCalls int
}

func (c *threeChoiceClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*generator.LLMResponse, error) {
	if strings.Contains(userPrompt, "multiple choice question(s)") {
		c.batchCalls++
		return &generator.LLMResponse{Content: `{"mcqs":[{
  "stem":"Which option applies?",
  "choices":["Begin oral rehydration therapy","Give intravenous fluids","Wait and review"],
  "rationales":["First line.","Reserved for shock.","Unsafe."],
  "correct_index":0,
  "explanation":"Oral rehydration therapy applies first."}]}`}, nil
	}
	return c.inner.Generate(ctx, systemPrompt, userPrompt)
}

func TestMCQValidationExhaustionFailsWithFindings(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	client := &threeChoiceClient{inner: generator.NewMockClient()}
	gen := generator.NewGeneratorWith(client)
	svc := NewService(store, gen, broker, search.NewRetriever(search.NewMemIndex()), testConfig())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Cholera", 0)
	stID, _ := store.InsertSubtopic(topic.ID, "Fluid Management", 1, models.StatusMCQPending)
	store.SaveConcept(stID, strings.Repeat("Oral rehydration therapy guides management. ", 20), "")

	if err := svc.GenerateMCQs(ctx, stID); err != nil {
		t.Fatalf("GenerateMCQs: %v", err)
	}

	st, _ := store.GetSubtopic(stID)
	if st.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
	if client.batchCalls != svc.cfg.MCQMaxAttempts {
		t.Fatalf("generation ran %d times, want %d (one validation loop, no requeue round)",
			client.batchCalls, svc.cfg.MCQMaxAttempts)
	}
	if broker.Len(models.MCQQueue) != 0 {
		t.Fatal("validation exhaustion must not requeue the subtopic")
	}
	if broker.Len(models.PlanQueue) != 1 {
		t.Fatalf("plan queue len = %d, want 1", broker.Len(models.PlanQueue))
	}

	var rows []models.FailLogEntry
	for _, f := range store.failures {
		if f.Stage == "mcq" && f.EntityID == stID {
			rows = append(rows, f)
		}
	}
	if len(rows) != 1 {
		t.Fatalf("fail log rows = %d, want exactly 1", len(rows))
	}
	if !strings.Contains(rows[0].Reason, "expected 4 choices") {
		t.Fatalf("fail log reason = %q, want the review findings", rows[0].Reason)
	}
}

// countingConceptClient counts concept rewrites so the near-duplicate retry
// is observable.
type countingConceptClient struct {
	inner        generator.LLMClient
	conceptCalls int
}

func (c *countingConceptClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*generator.LLMResponse, error) {
	if strings.Contains(userPrompt, "concept note for the sub-topic") {
		c.conceptCalls++
	}
	return c.inner.Generate(ctx, systemPrompt, userPrompt)
}

func TestGenerateConceptMarksPersistentDuplicate(t *testing.T) {
	idx := search.NewMemIndex(
		choleraDoc("Outpatient Management", "1", "Outpatient care rests on oral rehydration and safety-netting."),
		choleraDoc("Inpatient Management", "2", "Inpatient care covers supervised rehydration and monitoring."),
	)
	store := newMemStorage()
	broker := queue.NewMemBroker()
	client := &countingConceptClient{inner: generator.NewMockClient()}
	gen := generator.NewGeneratorWith(client)
	svc := NewService(store, gen, broker, search.NewRetriever(idx), testConfig())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Cholera in Children", 0)
	first, _ := store.InsertSubtopic(topic.ID, "Outpatient Management", 1, models.StatusConceptPending)
	second, _ := store.InsertSubtopic(topic.ID, "Inpatient Management", 2, models.StatusConceptPending)

	if err := svc.GenerateConcept(ctx, first); err != nil {
		t.Fatalf("first GenerateConcept: %v", err)
	}
	callsAfterFirst := client.conceptCalls

	// the mock writes the same prose for both siblings, so the second
	// subtopic trips the similarity check, retries with a hint, and is
	// still a duplicate
	if err := svc.GenerateConcept(ctx, second); err != nil {
		t.Fatalf("second GenerateConcept: %v", err)
	}
	if got := client.conceptCalls - callsAfterFirst; got != 2 {
		t.Fatalf("second concept used %d rewrite call(s), want 2 (initial + disambiguation retry)", got)
	}

	c2, _ := store.GetConcept(second)
	if c2 == nil || !strings.Contains(c2.CoverageNote, "dup_of:"+first) {
		t.Fatalf("second concept note = %q, want dup_of marker for %s", c2.CoverageNote, first)
	}
	c1, _ := store.GetConcept(first)
	if strings.Contains(c1.CoverageNote, "dup_of:") {
		t.Errorf("canonical concept carries a dup marker: %q", c1.CoverageNote)
	}

	st2, _ := store.GetSubtopic(second)
	if st2.Status != models.StatusMCQPending {
		t.Fatalf("duplicate concept status = %s, want mcq_pending (kept, never deleted)", st2.Status)
	}
}

func TestPruneBoilerplateKeepsExemptTitles(t *testing.T) {
	svc := newTestService(newMemStorage(), queue.NewMemBroker(), search.NewMemIndex())

	shared := "All patients should be registered with the national programme. "
	unique := []string{
		"Fever pattern distinguishes this stage from others. ",
		"Fluid deficit calculation depends on weight change. ",
		"Vaccine schedules differ by region and age band. ",
	}
	subs := []models.Subtopic{
		{ID: "a", Title: "Clinical Features"},
		{ID: "b", Title: "Fluid Management"},
		{ID: "c", Title: "Epidemiology and Burden"},
	}
	concepts := map[string]string{
		"a": shared + unique[0],
		"b": shared + unique[1],
		"c": shared + unique[2],
	}
	svc.pruneBoilerplate(subs, concepts)

	if strings.Contains(concepts["a"], "national programme") {
		t.Error("boilerplate survived in a non-exempt subtopic")
	}
	if !strings.Contains(concepts["a"], "Fever pattern") {
		t.Error("unique sentence was pruned")
	}
	if !strings.Contains(concepts["c"], "national programme") {
		t.Error("exempt title lost its repeated sentence")
	}
}

func TestAnnotateNearDuplicates(t *testing.T) {
	svc := newTestService(newMemStorage(), queue.NewMemBroker(), search.NewMemIndex())

	same := strings.Repeat("The same explanation of management appears in both places here. ", 10)
	subs := []models.Subtopic{
		{ID: "a", Title: "First Title"},
		{ID: "b", Title: "Second Title"},
		{ID: "c", Title: "Third Title"},
	}
	concepts := map[string]string{
		"a": same,
		"b": same,
		"c": strings.Repeat("Entirely different prose about prevention and vaccines instead. ", 10),
	}
	notes := svc.annotateNearDuplicates(subs, concepts)

	if notes["a"] != "" {
		t.Errorf("canonical subtopic was annotated: %q", notes["a"])
	}
	if !strings.Contains(notes["b"], `Near-duplicate of "First Title"`) {
		t.Errorf("notes[b] = %q", notes["b"])
	}
	if notes["c"] != "" {
		t.Errorf("distinct concept was annotated: %q", notes["c"])
	}
}

func TestCaseAggregateStatus(t *testing.T) {
	store := newMemStorage()
	svc := newTestService(store, queue.NewMemBroker(), search.NewMemIndex())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Cholera", 0)
	stID, _ := store.InsertSubtopic(topic.ID, "Severe Dehydration", 1, models.StatusMCQReady)

	c1, _ := store.SaveCase(models.Case{SubtopicID: stID, Title: "Case one", Vignette: "v1"})
	c2, _ := store.SaveCase(models.Case{SubtopicID: stID, Title: "Case two", Vignette: "v2"})

	got, err := svc.caseAggregateStatus(stID)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.CasePending {
		t.Fatalf("no questions yet: status = %s, want pending", got)
	}

	for _, cid := range []string{c1, c2} {
		id := cid
		store.SaveQuestions(ctx, []SavedQuestion{{
			SubtopicID: stID, CaseID: &id, Stem: "stem",
			CorrectChoice: "a", Explanation: "e",
		}})
	}
	got, _ = svc.caseAggregateStatus(stID)
	if got != models.CaseReady {
		t.Fatalf("unverified: status = %s, want ready", got)
	}

	store.SetCaseVerified(c1, true, "pass")
	got, _ = svc.caseAggregateStatus(stID)
	if got != models.CaseReady {
		t.Fatalf("partially verified: status = %s, want ready", got)
	}

	store.SetCaseVerified(c2, false, "fail: weak distractors")
	got, _ = svc.caseAggregateStatus(stID)
	if got != models.CaseFailed {
		t.Fatalf("one failed review: status = %s, want failed", got)
	}

	store.SetCaseVerified(c2, true, "pass")
	got, _ = svc.caseAggregateStatus(stID)
	if got != models.CaseVerified {
		t.Fatalf("all verified: status = %s, want verified", got)
	}
}

// emptyCaseMCQClient answers the case-question prompt with no items and
// defers to the mock for everything else.
type emptyCaseMCQClient struct{ inner generator.LLMClient }

func (c emptyCaseMCQClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*generator.LLMResponse, error) {
	if strings.Contains(userPrompt, "Write 1-2 multiple choice questions") {
		return &generator.LLMResponse{Content: `{"mcqs":[]}`}, nil
	}
	return c.inner.Generate(ctx, systemPrompt, userPrompt)
}

func TestCaseMCQRetryExhaustionFailsCase(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	gen := generator.NewGeneratorWith(emptyCaseMCQClient{inner: generator.NewMockClient()})
	svc := NewService(store, gen, broker, search.NewRetriever(search.NewMemIndex()), testConfig())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Cholera", 0)
	stID, _ := store.InsertSubtopic(topic.ID, "Severe Dehydration", 1, models.StatusMCQReady)
	store.SetCaseAmenability(stID, true, 90, models.CasePending)
	caseID, _ := store.SaveCase(models.Case{SubtopicID: stID, Title: "Case", Vignette: "v"})

	if err := svc.GenerateCaseMCQs(ctx, caseID); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if broker.Len(models.CaseMCQQueue) != 1 {
		t.Fatalf("case-mcq queue len = %d, want 1 requeued message", broker.Len(models.CaseMCQQueue))
	}

	if err := svc.GenerateCaseMCQs(ctx, caseID); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	st, _ := store.GetSubtopic(stID)
	if st.CaseStatus != models.CaseFailed {
		t.Fatalf("case status = %s, want failed", st.CaseStatus)
	}
	c, _ := store.GetCase(caseID)
	if c.Verified == nil || *c.Verified {
		t.Fatal("case must be marked unverified")
	}
	if broker.Len(models.PlanQueue) != 1 {
		t.Fatalf("plan queue len = %d, want 1", broker.Len(models.PlanQueue))
	}
}

func TestPendingSubtopics(t *testing.T) {
	subs := []models.Subtopic{
		{ID: "done", Status: models.StatusMCQReady},
		{ID: "failed", Status: models.StatusFailed},
		{ID: "working", Status: models.StatusConceptPending},
		{ID: "case-open", Status: models.StatusMCQReady, CaseAmenable: true, CaseStatus: models.CasePending},
		{ID: "case-lost-race", Status: models.StatusMCQReady, CaseAmenable: true, CaseStatus: models.CaseCandidate},
		{ID: "case-done", Status: models.StatusMCQReady, CaseAmenable: true, CaseStatus: models.CaseVerified},
	}
	waiting := pendingSubtopics(subs)
	want := map[string]bool{"working": true, "case-open": true}
	if len(waiting) != len(want) {
		t.Fatalf("waiting = %v, want %v", waiting, want)
	}
	for _, id := range waiting {
		if !want[id] {
			t.Fatalf("unexpected waiting subtopic %s", id)
		}
	}
}

func TestAssembleReschedulesWhileInFlight(t *testing.T) {
	store := newMemStorage()
	broker := queue.NewMemBroker()
	svc := newTestService(store, broker, search.NewMemIndex())
	ctx := context.Background()

	topic, _ := store.CreateTopic("Cholera", 0)
	store.InsertSubtopic(topic.ID, "Still Working", 1, models.StatusConceptPending)

	if err := svc.AssemblePlan(ctx, topic.ID); err != nil {
		t.Fatalf("AssemblePlan: %v", err)
	}
	doc, _ := store.GetStudyPlan(topic.ID)
	if doc != nil {
		t.Fatal("plan must not be stored while subtopics are in flight")
	}
	time.Sleep(20 * time.Millisecond)
	if broker.Len(models.PlanQueue) != 1 {
		t.Fatalf("plan queue len = %d, want 1 rescheduled message", broker.Len(models.PlanQueue))
	}
}
