package plans

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/textkit"
)

// Titles whose subject matter legitimately repeats across an outline. Their
// sentences are exempt from boilerplate frequency pruning.
var boilerplateExempt = regexp.MustCompile(`(?i)(epidemiolog|burden|transmission|prevention|public|sanitation)`)

// AssemblePlan is the plan-queue handler. Every upstream stage publishes here
// when it finishes a subtopic; the assembler reschedules itself until the
// whole topic is terminal, then builds and stores the document.
func (s *Service) AssemblePlan(ctx context.Context, topicID string) error {
	topic, err := s.store.GetTopic(topicID)
	if err != nil {
		return err
	}
	if topic == nil {
		log.Printf("[assemble] topic %s no longer exists, dropping", topicID)
		return nil
	}
	subs, err := s.store.ListSubtopics(topicID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	if waiting := pendingSubtopics(subs); len(waiting) > 0 {
		log.Printf("[assemble] topic %s has %d subtopic(s) in flight, rescheduling", topicID, len(waiting))
		return s.broker.PublishDelayed(ctx, models.PlanQueue, queue.IDPayload("topic_id", topicID), s.cfg.AssembleDelay)
	}

	doc, gaps, err := s.buildDocument(ctx, topic, subs)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceContentGaps(ctx, topicID, gaps); err != nil {
		return err
	}
	if err := s.store.UpsertStudyPlan(topicID, doc); err != nil {
		return err
	}
	log.Printf("[assemble] stored plan for %s (%s): %d subtopic(s), %d gap(s)",
		topicID, topic.Name, len(doc.Subtopics), len(gaps))
	return nil
}

// pendingSubtopics returns the subtopics still being worked on: main status
// not yet terminal, or an amenable case track still awaiting its questions or
// verification.
func pendingSubtopics(subs []models.Subtopic) []string {
	var waiting []string
	for _, st := range subs {
		if !models.TerminalStatuses[st.Status] {
			waiting = append(waiting, st.ID)
			continue
		}
		// candidate slots that lost the budget race are final once concept
		// generation is over, so only pending case work holds assembly
		if st.CaseAmenable && st.CaseStatus == models.CasePending {
			waiting = append(waiting, st.ID)
		}
	}
	return waiting
}

func (s *Service) buildDocument(ctx context.Context, topic *models.Topic, subs []models.Subtopic) (*models.PlanDocument, []models.ContentGap, error) {
	concepts := make(map[string]string, len(subs))
	for _, st := range subs {
		c, err := s.store.GetConcept(st.ID)
		if err != nil {
			return nil, nil, err
		}
		if c != nil {
			concepts[st.ID] = c.Content
		}
	}
	s.pruneBoilerplate(subs, concepts)
	dupNotes := s.annotateNearDuplicates(subs, concepts)

	doc := &models.PlanDocument{
		TopicID:      topic.ID,
		TopicName:    topic.Name,
		AssembledUTC: time.Now().UTC().Format(time.RFC3339),
	}
	var gaps []models.ContentGap

	for _, st := range subs {
		refs, err := s.store.ListSubtopicReferences(st.ID)
		if err != nil {
			return nil, nil, err
		}

		concept := concepts[st.ID]
		if concept == "" && len(refs) > 0 {
			concept = stitchExcerpts(refs, s.cfg.MaxSourceChars)
		}

		questions, err := s.planQuestions(st.ID, nil)
		if err != nil {
			return nil, nil, err
		}
		caseStudies, err := s.planCases(st)
		if err != nil {
			return nil, nil, err
		}

		contentStatus, reason := s.evaluateSubtopic(st, concept, len(refs), len(questions))
		note := st.CoverageNote
		if dn := dupNotes[st.ID]; dn != "" {
			note = appendNote(note, dn)
		}

		doc.Subtopics = append(doc.Subtopics, models.PlanSubtopic{
			SubtopicID:    st.ID,
			SubtopicTitle: st.Title,
			SequenceNo:    st.SequenceNo,
			Concept:       concept,
			References:    refs,
			Questions:     questions,
			CaseStudies:   caseStudies,
			ContentStatus: string(contentStatus),
			CoverageNote:  note,
		})

		if contentStatus == models.ContentInsufficient {
			doc.Insufficient = append(doc.Insufficient, models.PlanGap{
				SubtopicID: st.ID,
				Title:      st.Title,
				Reason:     reason,
			})
			gaps = append(gaps, models.ContentGap{
				TopicID:       topic.ID,
				SubtopicID:    st.ID,
				SubtopicTitle: st.Title,
				CoverageScore: st.CoverageScore,
				Reason:        reason,
			})
		}
	}
	return doc, gaps, nil
}

// evaluateSubtopic recomputes sufficiency at assembly time rather than
// trusting the coverage estimate made before generation ran. Reference
// presence is taken from the rows actually loaded, not the status flag, so a
// stale flag cannot mask a missing linkage.
func (s *Service) evaluateSubtopic(st models.Subtopic, concept string, refCount, questionCount int) (models.ContentStatus, string) {
	switch st.Status {
	case models.StatusFailed:
		return models.ContentInsufficient, "generation failed"
	case models.StatusConceptSkipped:
		return models.ContentInsufficient, "source text too short"
	}
	if refCount == 0 {
		return models.ContentInsufficient, "no source references found"
	}
	if len(concept) < s.cfg.MinConceptChars {
		return models.ContentInsufficient, fmt.Sprintf("concept below %d chars", s.cfg.MinConceptChars)
	}
	if s.cfg.EvalRequireMCQs && questionCount == 0 {
		return models.ContentInsufficient, "no questions generated"
	}
	return models.ContentOK, ""
}

// pruneBoilerplate removes sentences that recur across enough concepts to be
// template filler. Subtopics whose titles are about population-level material
// keep their text untouched since repetition is expected there.
func (s *Service) pruneBoilerplate(subs []models.Subtopic, concepts map[string]string) {
	freq := make(map[string]int)
	for _, st := range subs {
		seen := make(map[string]bool)
		for _, sent := range textkit.Sentences(concepts[st.ID]) {
			sig := textkit.SentenceSignature(sent)
			if sig == "" || seen[sig] {
				continue
			}
			seen[sig] = true
			freq[sig]++
		}
	}

	for _, st := range subs {
		if boilerplateExempt.MatchString(st.Title) {
			continue
		}
		sents := textkit.Sentences(concepts[st.ID])
		if len(sents) == 0 {
			continue
		}
		kept := make([]string, 0, len(sents))
		dropped := 0
		for _, sent := range sents {
			if freq[textkit.SentenceSignature(sent)] >= s.cfg.BoilerplateMinFreq {
				dropped++
				continue
			}
			kept = append(kept, sent)
		}
		if dropped > 0 {
			log.Printf("[assemble] pruned %d boilerplate sentence(s) from %q", dropped, st.Title)
			concepts[st.ID] = strings.Join(kept, " ")
		}
	}
}

// annotateNearDuplicates flags concept pairs that remained highly similar
// after generation-time dedupe. The text is left intact; the note lets an
// editor decide.
func (s *Service) annotateNearDuplicates(subs []models.Subtopic, concepts map[string]string) map[string]string {
	shingled := make(map[string]map[string]bool, len(subs))
	for id, c := range concepts {
		shingled[id] = textkit.Shingles(c, conceptShingleSize)
	}
	titles := make(map[string]string, len(subs))
	for _, st := range subs {
		titles[st.ID] = st.Title
	}

	notes := make(map[string]string)
	for i := 0; i < len(subs); i++ {
		for j := i + 1; j < len(subs); j++ {
			a, b := subs[i].ID, subs[j].ID
			sim := textkit.Jaccard(shingled[a], shingled[b])
			if sim < s.cfg.AssembleDupThreshold {
				continue
			}
			// annotate the later subtopic; the earlier one reads as canonical
			notes[b] = appendNote(notes[b], fmt.Sprintf("Near-duplicate of %q (%.2f)", titles[a], sim))
		}
	}
	return notes
}

func (s *Service) planQuestions(subtopicID string, caseID *string) ([]models.PlanQuestion, error) {
	qs, err := s.store.ListQuestions(subtopicID, caseID)
	if err != nil {
		return nil, err
	}
	var out []models.PlanQuestion
	for _, q := range qs {
		choices, err := s.store.ListChoices(q.ID)
		if err != nil {
			return nil, err
		}
		variants, err := s.store.ListVariants(q.ID)
		if err != nil {
			return nil, err
		}
		refs, err := s.store.ListQuestionReferences(q.ID)
		if err != nil {
			return nil, err
		}
		pq := models.PlanQuestion{
			QuestionID:    q.ID,
			Stem:          q.Stem,
			Explanation:   q.Explanation,
			CorrectChoice: q.CorrectChoice,
			Choices:       choices,
			Variants:      variants,
			References:    refs,
		}
		for i := range choices {
			if choices[i].ChoiceText == q.CorrectChoice {
				idx := choices[i].ChoiceIndex
				pq.CorrectChoiceIndex = &idx
				break
			}
		}
		out = append(out, pq)
	}
	return out, nil
}

func (s *Service) planCases(st models.Subtopic) ([]models.PlanCase, error) {
	cases, err := s.store.ListCases(st.ID)
	if err != nil {
		return nil, err
	}
	var out []models.PlanCase
	for _, c := range cases {
		mcqs, err := s.planQuestions(st.ID, &c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.PlanCase{
			CaseID:            c.ID,
			Title:             c.Title,
			Vignette:          c.Vignette,
			LearningObjective: c.LearningObjective,
			WordCount:         c.WordCount,
			Verified:          c.Verified,
			MCQs:              mcqs,
		})
	}
	return out, nil
}

// stitchExcerpts builds a fallback concept from reference excerpts when no
// generated concept exists, bounded so it reads as a summary rather than a
// dump.
func stitchExcerpts(refs []models.Reference, maxChars int) string {
	var parts []string
	used := 0
	for _, r := range refs {
		e := strings.TrimSpace(r.Excerpt)
		if e == "" {
			continue
		}
		if used+len(e) > maxChars {
			break
		}
		parts = append(parts, e)
		used += len(e)
	}
	return strings.Join(parts, "\n\n")
}
