package plans

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
	"github.com/admin-masters/Ai-cme/internal/textkit"
)

// EnqueueTopic creates the topic and seeds at least MinSubtopics placeholder
// rows before scheduling outline generation: titles from the source index
// where it already knows the topic, generic fill after. The outline stage
// revises or deletes the placeholders once the real outline settles.
func (s *Service) EnqueueTopic(ctx context.Context, name string, credits int) (*models.Topic, int, error) {
	topic, err := s.store.CreateTopic(strings.TrimSpace(name), credits)
	if err != nil {
		return nil, 0, err
	}

	seeded := 0
	_, outline, _, err := s.retriever.Outline(ctx, topic.Name)
	if err != nil {
		log.Printf("[subtopics] WARNING: outline seed failed for %s: %v", topic.ID, err)
	} else {
		for _, row := range outline {
			if _, err := s.store.InsertSubtopic(topic.ID, row.Subtopic, seeded+1, models.StatusQueued); err != nil {
				return nil, 0, err
			}
			seeded++
		}
	}
	for seeded < s.cfg.MinSubtopics {
		seeded++
		title := fmt.Sprintf("Placeholder %d", seeded)
		if _, err := s.store.InsertSubtopic(topic.ID, title, seeded, models.StatusQueued); err != nil {
			return nil, 0, err
		}
	}

	if err := s.broker.Publish(ctx, models.TopicQueue, queue.IDPayload("topic_id", topic.ID)); err != nil {
		return nil, 0, err
	}
	return topic, seeded, nil
}

// GenerateSubtopics is the topic-queue handler. It settles the final outline
// (from the source index when covered, from the model otherwise), reconciles
// it against seeded placeholders, scores coverage, and ingests any
// pre-authored case vignettes the source carries.
func (s *Service) GenerateSubtopics(ctx context.Context, topicID string) error {
	topic, err := s.store.GetTopic(topicID)
	if err != nil {
		return err
	}
	if topic == nil {
		log.Printf("[subtopics] topic %s no longer exists, dropping", topicID)
		return nil
	}

	resolved, outline, vignetteDocs, err := s.retriever.Outline(ctx, topic.Name)
	if err != nil {
		return fmt.Errorf("outline lookup: %w", err)
	}
	if resolved != "" && resolved != topic.Name {
		log.Printf("[subtopics] resolved %q to source label %q", topic.Name, resolved)
		if err := s.store.RenameTopic(topicID, resolved); err != nil {
			return err
		}
		topic.Name = resolved
	}

	var titles []string
	coverage := make(map[string]int)
	if len(outline) > 0 {
		for _, row := range outline {
			titles = append(titles, row.Subtopic)
			coverage[textkit.CanonTitle(row.Subtopic)] = row.CoverageChars
		}
		titles = textkit.DedupeTitles(titles)
	} else {
		titles, err = s.draftOutline(ctx, topic.Name)
		if err != nil {
			return err
		}
	}

	if err := s.reconcileSubtopics(topicID, titles); err != nil {
		return err
	}
	if err := s.scoreCoverage(ctx, topic, coverage); err != nil {
		return err
	}

	if len(vignetteDocs) > 0 {
		if err := s.ingestVignettes(ctx, topic, vignetteDocs); err != nil {
			log.Printf("[subtopics] WARNING: vignette ingestion failed for %s: %v", topicID, err)
		}
	}

	log.Printf("[subtopics] topic %s outline settled with %d subtopics", topicID, len(titles))
	return nil
}

// draftOutline runs the model-driven outline flow: rubric, draft, dedupe,
// size enforcement, then two verify/repair rounds.
func (s *Service) draftOutline(ctx context.Context, topicName string) ([]string, error) {
	rubric, err := s.gen.MakeRubric(ctx, topicName)
	if err != nil {
		log.Printf("[subtopics] WARNING: rubric call failed, using fallback: %v", err)
		rubric = generator.FallbackRubric()
	}

	// over-draft, then trim down; merging is cheaper than topping up
	draft, err := s.gen.DraftSubtopics(ctx, topicName, 30, 50)
	if err != nil {
		return nil, fmt.Errorf("draft outline: %w", err)
	}
	titles := textkit.DedupeTitles(draft)
	titles, err = s.enforceOutlineSize(ctx, topicName, titles)
	if err != nil {
		return nil, err
	}

	for round := 0; round < 2; round++ {
		verdict, err := s.gen.VerifyOutline(ctx, topicName, rubric, titles)
		if err != nil {
			log.Printf("[subtopics] WARNING: verify round %d failed: %v", round+1, err)
			break
		}
		if verdict.Complete && len(verdict.Drop) == 0 && len(verdict.Merge) == 0 &&
			len(verdict.Reword) == 0 && len(verdict.Missing) == 0 {
			break
		}
		titles = applyOutlineRepairs(titles, verdict)
		titles, err = s.enforceOutlineSize(ctx, topicName, titles)
		if err != nil {
			return nil, err
		}
	}
	return titles, nil
}

func (s *Service) enforceOutlineSize(ctx context.Context, topicName string, titles []string) ([]string, error) {
	if len(titles) > s.cfg.MaxSubtopics {
		merged, err := s.gen.CoalesceTitles(ctx, topicName, titles, s.cfg.MaxSubtopics)
		if err == nil {
			merged = textkit.DedupeTitles(merged)
			if len(merged) <= s.cfg.MaxSubtopics && len(merged) > 0 {
				titles = merged
			}
		} else {
			log.Printf("[subtopics] WARNING: coalesce call failed, merging heuristically: %v", err)
		}
		titles = greedyMerge(titles, s.cfg.MaxSubtopics)
	}
	if len(titles) < s.cfg.MinSubtopics {
		need := s.cfg.MinSubtopics - len(titles)
		extra, err := s.gen.TopUpTitles(ctx, topicName, titles, need)
		if err != nil {
			log.Printf("[subtopics] WARNING: top-up call failed, outline stays at %d: %v", len(titles), err)
			return titles, nil
		}
		titles = textkit.DedupeTitles(append(titles, extra...))
	}
	return titles, nil
}

// protectedKeywords mark titles that must never be merged into each other;
// collapsing diagnosis into treatment produces unteachable hybrids.
var protectedKeywords = []string{"diagnos", "treatment", "management", "prevention", "complication", "emergenc"}

func protectedClass(title string) string {
	lower := strings.ToLower(title)
	for _, kw := range protectedKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// greedyMerge folds the most lexically similar title pairs until the outline
// fits, skipping pairs from different protected classes.
func greedyMerge(titles []string, max int) []string {
	for len(titles) > max {
		bi, bj, best := -1, -1, -1.0
		for i := 0; i < len(titles); i++ {
			for j := i + 1; j < len(titles); j++ {
				ci, cj := protectedClass(titles[i]), protectedClass(titles[j])
				if ci != cj {
					continue
				}
				if sim := textkit.TitleJaccard(titles[i], titles[j]); sim > best {
					bi, bj, best = i, j, sim
				}
			}
		}
		if bi < 0 {
			// nothing mergeable; keep the front of the list
			return titles[:max]
		}
		merged := titles[bi] + " / " + titles[bj]
		titles = append(titles[:bj], titles[bj+1:]...)
		titles[bi] = merged
	}
	return titles
}

func applyOutlineRepairs(titles []string, verdict *generator.OutlineVerdict) []string {
	drop := make(map[string]bool)
	for _, d := range verdict.Drop {
		drop[textkit.CanonTitle(d)] = true
	}
	reword := make(map[string]string)
	for _, r := range verdict.Reword {
		if strings.TrimSpace(r.To) != "" {
			reword[textkit.CanonTitle(r.From)] = strings.TrimSpace(r.To)
		}
	}
	mergeInto := make(map[string]string)
	for _, pair := range verdict.Merge {
		if len(pair) != 2 {
			continue
		}
		mergeInto[textkit.CanonTitle(pair[1])] = textkit.CanonTitle(pair[0])
	}

	var out []string
	merged := make(map[string]bool)
	for _, t := range titles {
		key := textkit.CanonTitle(t)
		if drop[key] || merged[key] {
			continue
		}
		if to, ok := reword[key]; ok {
			t = to
		}
		if first, ok := mergeInto[key]; ok {
			// second half of a merge pair: fold into the first
			for i, existing := range out {
				if textkit.CanonTitle(existing) == first {
					out[i] = existing + " / " + t
					break
				}
			}
			merged[key] = true
			continue
		}
		out = append(out, t)
	}
	out = append(out, verdict.Missing...)
	return textkit.DedupeTitles(out)
}

// reconcileSubtopics maps the settled outline onto the seeded placeholder
// rows: placeholders are revised in order, surplus rows are deleted, and
// titles beyond the placeholder count are inserted fresh.
func (s *Service) reconcileSubtopics(topicID string, titles []string) error {
	existing, err := s.store.ListSubtopics(topicID)
	if err != nil {
		return err
	}

	for i, title := range titles {
		if i < len(existing) {
			st := existing[i]
			if models.TerminalStatuses[st.Status] || st.Status != models.StatusQueued {
				// already progressed; leave it alone
				continue
			}
			if err := s.store.ReviseSubtopic(st.ID, title, i+1, models.StatusRefsPending); err != nil {
				return err
			}
			continue
		}
		if _, err := s.store.InsertSubtopic(topicID, title, i+1, models.StatusRefsPending); err != nil {
			return err
		}
	}
	for i := len(titles); i < len(existing); i++ {
		if existing[i].Status != models.StatusQueued {
			continue
		}
		if err := s.store.DeleteSubtopic(existing[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// scoreCoverage estimates how much source text backs each subtopic and
// rewrites the topic's content-gap list.
func (s *Service) scoreCoverage(ctx context.Context, topic *models.Topic, fromOutline map[string]int) error {
	subs, err := s.store.ListSubtopics(topic.ID)
	if err != nil {
		return err
	}

	var gaps []models.ContentGap
	for _, st := range subs {
		chars, ok := fromOutline[textkit.CanonTitle(st.Title)]
		if !ok {
			chars = s.retriever.EstimateCoverage(ctx, topic.Name, st.Title)
		}
		contentStatus := models.ContentOK
		note := ""
		if chars < s.cfg.CoverageMinChars {
			contentStatus = models.ContentInsufficient
			note = fmt.Sprintf("source coverage %d chars, below %d", chars, s.cfg.CoverageMinChars)
			gaps = append(gaps, models.ContentGap{
				TopicID:       topic.ID,
				SubtopicID:    st.ID,
				SubtopicTitle: st.Title,
				CoverageScore: chars,
				Reason:        note,
			})
		}
		if err := s.store.UpdateCoverage(st.ID, chars, contentStatus, note); err != nil {
			return err
		}
	}
	return s.store.ReplaceContentGaps(ctx, topic.ID, gaps)
}

// EnqueueSubtopics pushes every refs_pending subtopic onto the harvest queue.
// Subtopics whose coverage is insufficient still flow; the concept stage makes
// the final call on whether the source supports a rewrite.
func (s *Service) EnqueueSubtopics(ctx context.Context, topicID string) (*models.EnqueueSubtopicsResponse, error) {
	subs, err := s.store.ListSubtopics(topicID)
	if err != nil {
		return nil, err
	}

	resp := &models.EnqueueSubtopicsResponse{TopicID: topicID, Queue: models.SubtopicQueue}
	for _, st := range subs {
		if st.Status != models.StatusRefsPending {
			continue
		}
		resp.RefsPending++
		if st.ContentStatus == models.ContentInsufficient && st.CoverageScore == 0 {
			resp.SkippedLowCoverage++
			continue
		}
		if err := s.broker.Publish(ctx, models.SubtopicQueue, queue.IDPayload("subtopic_id", st.ID)); err != nil {
			return nil, err
		}
		resp.Queued++
	}
	return resp, nil
}

// ingestVignettes extracts pre-authored cases from the source's case-study
// sections, assigns each to a subtopic, and pins the case slots so the budget
// rebalancer cannot evict material that already exists.
func (s *Service) ingestVignettes(ctx context.Context, topic *models.Topic, docs []search.Document) error {
	stitched := search.StitchVignetteText(docs, s.cfg.VignetteStitchChars)
	if strings.TrimSpace(stitched) == "" {
		return nil
	}

	cases, err := s.gen.ExtractCases(ctx, topic.Name, stitched)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return nil
	}

	subs, err := s.store.ListSubtopics(topic.ID)
	if err != nil {
		return err
	}
	targets := make([]generator.AssignTarget, 0, len(subs))
	for _, st := range subs {
		targets = append(targets, generator.AssignTarget{ID: st.ID, Title: st.Title})
	}

	assignments, err := s.gen.AssignCases(ctx, topic.Name, targets, cases)
	if err != nil {
		return err
	}

	inserted := 0
	for _, a := range assignments {
		c := cases[a.CaseIndex]
		words := textkit.WordCount(c.Vignette)
		if words < 100 || words > 220 {
			log.Printf("[subtopics] WARNING: extracted vignette %q is %d words", c.CaseTitle, words)
		}
		exists, err := s.store.CaseExistsByVignette(a.SubtopicID, c.Vignette)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		caseID, err := s.store.SaveCase(models.Case{
			SubtopicID:        a.SubtopicID,
			Title:             c.CaseTitle,
			Vignette:          c.Vignette,
			WordCount:         words,
			LearningObjective: c.LearningObjective,
		})
		if err != nil {
			return err
		}
		if err := s.store.SetCaseAmenability(a.SubtopicID, true, 100, models.CasePending); err != nil {
			return err
		}
		if err := s.broker.Publish(ctx, models.CaseMCQQueue, queue.IDPayload("case_id", caseID)); err != nil {
			return err
		}
		inserted++
	}
	if inserted > 0 {
		log.Printf("[subtopics] ingested %d pre-authored case(s) for topic %s", inserted, topic.ID)
	}
	return nil
}

// topSimilarSiblings is used when regenerating a near-duplicate concept: the
// hint names the closest siblings so the rewrite can steer away from them.
func topSimilarSiblings(content string, siblings map[string]string, titles map[string]string, n int) []string {
	type scored struct {
		title string
		sim   float64
	}
	mine := textkit.Shingles(content, 5)
	var all []scored
	for id, text := range siblings {
		all = append(all, scored{title: titles[id], sim: textkit.Jaccard(mine, textkit.Shingles(text, 5))})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	var out []string
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].title)
	}
	return out
}
