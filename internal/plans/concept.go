package plans

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
	"github.com/admin-masters/Ai-cme/internal/textkit"
)

const conceptShingleSize = 5

// GenerateConcept is the concept-queue handler. It composes the source
// passages for a subtopic, rewrites them into a concept note, lints the
// result, assesses case amenability, and advances the subtopic to MCQ
// generation.
func (s *Service) GenerateConcept(ctx context.Context, subtopicID string) error {
	st, err := s.store.GetSubtopic(subtopicID)
	if err != nil {
		return err
	}
	if st == nil {
		log.Printf("[concept] subtopic %s no longer exists, dropping", subtopicID)
		return nil
	}
	if st.Status != models.StatusConceptPending {
		return nil
	}

	topic, err := s.store.GetTopic(st.TopicID)
	if err != nil {
		return err
	}

	docs, err := s.retriever.FetchPassages(ctx, topic.Name, st.Title)
	if err != nil {
		return fmt.Errorf("fetch passages: %w", err)
	}
	source := search.ComposeSource(docs, s.cfg.MaxSourceChars)
	if len(source) < s.cfg.SoftMinSourceChars {
		note := fmt.Sprintf("Source text too short (%d chars)", len(source))
		if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusConceptSkipped); err != nil {
			return err
		}
		if err := s.store.AppendCoverageNote(st.ID, note); err != nil {
			return err
		}
		log.Printf("[concept] WARNING: skipping %s (%s): %s", st.ID, st.Title, note)
		return nil
	}

	total, err := s.store.CountSubtopics(st.TopicID)
	if err != nil {
		return err
	}
	slot := OutlineSlot(st.Title, st.SequenceNo, total)

	concept, note, err := s.writeConcept(ctx, topic, st, source, slot)
	if err != nil {
		if logErr := s.store.LogFailure("concept", st.ID, err.Error()); logErr != nil {
			return logErr
		}
		return s.store.UpdateSubtopicStatus(st.ID, models.StatusFailed)
	}

	if _, err := s.store.SaveConcept(st.ID, concept, note); err != nil {
		return err
	}

	if err := s.assessAmenability(ctx, topic, st, concept); err != nil {
		return err
	}
	if err := s.rebalanceCaseBudget(ctx, topic); err != nil {
		return err
	}

	if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusMCQPending); err != nil {
		return err
	}
	return s.broker.Publish(ctx, models.MCQQueue, queue.IDPayload("subtopic_id", st.ID))
}

// writeConcept produces the concept prose, retrying once on short output and
// once on near-duplication against sibling concepts. A persistent duplicate
// is kept but annotated so the assembler can surface it.
func (s *Service) writeConcept(ctx context.Context, topic *models.Topic, st *models.Subtopic, source, slot string) (concept, note string, err error) {
	concept, err = s.gen.RewriteConcept(ctx, topic.Name, st.Title, source, slot, "")
	if err != nil {
		return "", "", err
	}
	if len(concept) < s.cfg.MinConceptChars || textkit.LooksClipped(concept) {
		log.Printf("[concept] WARNING: short or clipped concept for %s, regenerating", st.ID)
		concept, err = s.gen.RewriteConcept(ctx, topic.Name, st.Title, source, slot, "")
		if err != nil {
			return "", "", err
		}
		if len(concept) < s.cfg.MinConceptChars {
			return "", "", fmt.Errorf("concept below %d chars after retry", s.cfg.MinConceptChars)
		}
	}

	if !textkit.HasMinHits(concept, st.Title, s.cfg.RelevanceMinHits) {
		log.Printf("[concept] WARNING: concept for %s fails relevance lint against %q", st.ID, st.Title)
		note = appendNote(note, "relevance lint failed")
	}

	siblings, err := s.store.SiblingConcepts(st.TopicID, st.ID)
	if err != nil {
		return "", "", err
	}
	if dupID := nearestDuplicate(concept, siblings, s.cfg.DupSimThreshold); dupID != "" {
		titles, err := s.siblingTitles(st.TopicID)
		if err != nil {
			return "", "", err
		}
		hint := fmt.Sprintf(
			"An earlier draft overlapped heavily with sibling sub-topics %s. Cover only material specific to %q.",
			strings.Join(topSimilarSiblings(concept, siblings, titles, 2), " and "), st.Title)
		regen, err := s.gen.RewriteConcept(ctx, topic.Name, st.Title, source, slot, hint)
		if err != nil {
			return "", "", err
		}
		if len(regen) >= s.cfg.MinConceptChars {
			concept = regen
		}
		if dupID := nearestDuplicate(concept, siblings, s.cfg.DupSimThreshold); dupID != "" {
			note = appendNote(note, "dup_of:"+dupID)
		}
	}
	return concept, note, nil
}

func (s *Service) siblingTitles(topicID string) (map[string]string, error) {
	subs, err := s.store.ListSubtopics(topicID)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(subs))
	for _, st := range subs {
		titles[st.ID] = st.Title
	}
	return titles, nil
}

func nearestDuplicate(concept string, siblings map[string]string, threshold float64) string {
	mine := textkit.Shingles(concept, conceptShingleSize)
	bestID, best := "", 0.0
	for id, text := range siblings {
		if sim := textkit.Jaccard(mine, textkit.Shingles(text, conceptShingleSize)); sim >= threshold && sim > best {
			bestID, best = id, sim
		}
	}
	return bestID
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

// assessAmenability marks whether the subtopic can carry a case vignette.
// Confident candidates wait for the budget rebalancer; everything else is
// closed out immediately.
func (s *Service) assessAmenability(ctx context.Context, topic *models.Topic, st *models.Subtopic, concept string) error {
	if st.CaseStatus == models.CasePending {
		// pinned by vignette ingestion; never demote pre-authored material
		return nil
	}
	amenable, confidence, err := s.gen.AssessCaseAmenability(ctx, topic.Name, st.Title, concept)
	if err != nil {
		log.Printf("[concept] WARNING: amenability call failed for %s: %v", st.ID, err)
		return s.store.SetCaseAmenability(st.ID, false, 0, models.CaseNone)
	}
	if !amenable || confidence < s.cfg.CaseMinConfidence {
		return s.store.SetCaseAmenability(st.ID, false, confidence, models.CaseNone)
	}
	return s.store.SetCaseAmenability(st.ID, true, confidence, models.CaseCandidate)
}

// rebalanceCaseBudget promotes waiting candidates into free case slots. The
// budget is capped at a fraction of the outline so plans stay balanced
// between concept teaching and case work.
//
// Two workers finishing concepts concurrently can both read the same budget
// count and promote one candidate each, overshooting the cap by one. The
// overshoot is bounded, harmless to the document, and not worth a lock across
// the generation path.
func (s *Service) rebalanceCaseBudget(ctx context.Context, topic *models.Topic) error {
	total, err := s.store.CountSubtopics(topic.ID)
	if err != nil {
		return err
	}
	cap := int(math.Floor(float64(total) * s.cfg.CaseMaxFraction))
	used, err := s.store.CountCaseBudget(topic.ID, []models.CaseStatus{
		models.CasePending, models.CaseReady, models.CaseVerified,
	})
	if err != nil {
		return err
	}
	slots := cap - used
	if slots <= 0 {
		return nil
	}

	candidates, err := s.store.ListCaseCandidates(topic.ID, s.cfg.CaseRebalanceLimit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	var picked []string
	if len(candidates) <= slots {
		for _, c := range candidates {
			picked = append(picked, c.ID)
		}
	} else {
		lines := make([]string, 0, len(candidates))
		byID := make(map[string]bool, len(candidates))
		for _, c := range candidates {
			lines = append(lines, fmt.Sprintf("%s | %s | %d", c.ID, c.Title, c.CaseConfidence))
			byID[c.ID] = true
		}
		picked, err = s.gen.RankCaseCandidates(ctx, topic.Name, lines, slots)
		if err != nil {
			log.Printf("[concept] WARNING: case ranking failed, promoting by confidence: %v", err)
			picked = picked[:0]
			for i := 0; i < slots && i < len(candidates); i++ {
				picked = append(picked, candidates[i].ID)
			}
		}
		valid := picked[:0]
		for _, id := range picked {
			if byID[id] {
				valid = append(valid, id)
			}
		}
		picked = valid
	}

	for _, id := range picked {
		if err := s.store.UpdateCaseStatus(id, models.CasePending); err != nil {
			return err
		}
		if err := s.broker.Publish(ctx, models.CaseQueue, queue.IDPayload("subtopic_id", id)); err != nil {
			return err
		}
	}
	if len(picked) > 0 {
		log.Printf("[concept] promoted %d case candidate(s) for topic %s", len(picked), topic.ID)
	}
	return nil
}
