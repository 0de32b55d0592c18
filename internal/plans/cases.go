package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/textkit"
)

const (
	caseWordMin = 100
	caseWordMax = 220
	caseMCQMax  = 2
)

// GenerateCase is the case-queue handler. Subtopics arrive here either from
// the budget rebalancer or with vignettes already ingested from the corpus;
// in the latter case we only push the existing material on to MCQ writing.
func (s *Service) GenerateCase(ctx context.Context, subtopicID string) error {
	st, err := s.store.GetSubtopic(subtopicID)
	if err != nil {
		return err
	}
	if st == nil {
		log.Printf("[case] subtopic %s no longer exists, dropping", subtopicID)
		return nil
	}
	if st.CaseStatus != models.CasePending {
		return nil
	}

	existing, err := s.store.ListCases(st.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		for _, c := range existing {
			has, err := s.store.CaseHasQuestions(c.ID)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if err := s.broker.Publish(ctx, models.CaseMCQQueue, queue.IDPayload("case_id", c.ID)); err != nil {
				return err
			}
		}
		return nil
	}

	if !st.CaseAmenable {
		return s.store.UpdateCaseStatus(st.ID, models.CaseSkipped)
	}

	topic, err := s.store.GetTopic(st.TopicID)
	if err != nil {
		return err
	}
	concept, err := s.store.GetConcept(st.ID)
	if err != nil {
		return err
	}
	if concept == nil || concept.Content == "" {
		log.Printf("[case] WARNING: no concept for %s, skipping case", st.ID)
		return s.store.UpdateCaseStatus(st.ID, models.CaseSkipped)
	}

	payload, err := s.gen.ComposeCase(ctx, topic.Name, st.Title, concept.Content)
	if err != nil {
		if logErr := s.store.LogFailure("case", st.ID, err.Error()); logErr != nil {
			return logErr
		}
		return s.store.UpdateCaseStatus(st.ID, models.CaseFailed)
	}
	if payload.Vignette == "" {
		if err := s.store.LogFailure("case", st.ID, "empty vignette"); err != nil {
			return err
		}
		return s.store.UpdateCaseStatus(st.ID, models.CaseFailed)
	}

	wc := textkit.WordCount(payload.Vignette)
	if wc < caseWordMin || wc > caseWordMax {
		log.Printf("[case] WARNING: vignette for %s is %d words, keeping anyway", st.ID, wc)
	}

	caseID, err := s.store.SaveCase(models.Case{
		SubtopicID:        st.ID,
		Title:             payload.Title,
		Vignette:          payload.Vignette,
		WordCount:         wc,
		LearningObjective: payload.LearningObjective,
	})
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, models.CaseMCQQueue, queue.IDPayload("case_id", caseID))
}

// GenerateCaseMCQs is the case-mcq-queue handler: write one or two questions
// against a vignette, then move the subtopic to ready once every sibling case
// has its questions.
func (s *Service) GenerateCaseMCQs(ctx context.Context, caseID string) error {
	c, err := s.store.GetCase(caseID)
	if err != nil {
		return err
	}
	if c == nil {
		log.Printf("[case-mcq] case %s no longer exists, dropping", caseID)
		return nil
	}

	has, err := s.store.CaseHasQuestions(c.ID)
	if err != nil {
		return err
	}
	if !has {
		st, err := s.store.GetSubtopic(c.SubtopicID)
		if err != nil {
			return err
		}
		if st == nil {
			return nil
		}
		topic, err := s.store.GetTopic(st.TopicID)
		if err != nil {
			return err
		}

		blocks, err := s.gen.CaseMCQs(ctx, topic.Name, c.Title, c.Vignette, c.LearningObjective)
		if err != nil {
			return err
		}
		var saved []SavedQuestion
		for _, b := range blocks {
			if len(saved) == caseMCQMax {
				break
			}
			if findings := reviewCaseBlock(b); len(findings) > 0 {
				log.Printf("[case-mcq] WARNING: dropping block for %s: %s", c.ID, strings.Join(findings, "; "))
				continue
			}
			cid := c.ID
			saved = append(saved, toSavedQuestion(c.SubtopicID, &cid, b))
		}
		if len(saved) == 0 {
			if err := s.requeueOnce(ctx, "case_mcq", c.ID, "no_case_mcqs_returned", models.CaseMCQQueue, "case_id"); err != nil {
				return err
			}
			n, err := s.store.CountFailures("case_mcq", c.ID, "no_case_mcqs_returned")
			if err != nil {
				return err
			}
			if n <= 1 {
				return nil
			}
			// retries exhausted; a questionless case would hold assembly
			// forever, so close the case track out
			if err := s.store.SetCaseVerified(c.ID, false, "no questions generated"); err != nil {
				return err
			}
			if err := s.store.UpdateCaseStatus(c.SubtopicID, models.CaseFailed); err != nil {
				return err
			}
			return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
		}
		if _, err := s.store.SaveQuestions(ctx, saved); err != nil {
			return err
		}
	}

	if err := s.refreshCaseAggregate(c.SubtopicID, models.CaseReady); err != nil {
		return err
	}
	return s.broker.Publish(ctx, models.VerifyQueue, queue.IDPayload("case_id", c.ID))
}

// reviewCaseBlock applies the structural checks a case question must meet.
// Variants are not produced for case questions, so the full review is not
// reused here.
func reviewCaseBlock(b generator.MCQBlock) []string {
	var findings []string
	if strings.TrimSpace(b.Stem) == "" {
		findings = append(findings, "empty stem")
	}
	if len(b.Choices) != 4 {
		findings = append(findings, fmt.Sprintf("expected 4 choices, got %d", len(b.Choices)))
	}
	for i, c := range b.Choices {
		if strings.TrimSpace(c) == "" {
			findings = append(findings, fmt.Sprintf("choice %d is blank", i))
		}
	}
	if b.CorrectIndex < 0 || b.CorrectIndex >= len(b.Choices) {
		findings = append(findings, "correct_index out of range")
	}
	if strings.TrimSpace(b.Explanation) == "" {
		findings = append(findings, "empty explanation")
	}
	return findings
}

// VerifyCaseBundle is the verify-queue handler: a QA pass over one case and
// its questions, recorded per case, then rolled up to the subtopic.
func (s *Service) VerifyCaseBundle(ctx context.Context, caseID string) error {
	c, err := s.store.GetCase(caseID)
	if err != nil {
		return err
	}
	if c == nil {
		log.Printf("[verify] case %s no longer exists, dropping", caseID)
		return nil
	}
	st, err := s.store.GetSubtopic(c.SubtopicID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}
	topic, err := s.store.GetTopic(st.TopicID)
	if err != nil {
		return err
	}

	bundle, err := s.caseBundleJSON(c)
	if err != nil {
		return err
	}
	verdict, err := s.gen.VerifyCaseBundle(ctx, topic.Name, st.Title, bundle)
	if err != nil {
		return err
	}

	issues := strings.Join(verdict.Issues, "; ")
	fixes := ""
	if fj, err := json.Marshal(verdict.SuggestedFixs); err == nil && len(verdict.SuggestedFixs) > 0 {
		fixes = string(fj)
	}
	if err := s.store.SaveQAReview("case", c.ID, verdict.Verdict, issues, fixes); err != nil {
		return err
	}

	pass := verdict.Verdict == "pass"
	summary := verdict.Verdict
	if issues != "" {
		summary = verdict.Verdict + ": " + issues
	}
	if err := s.store.SetCaseVerified(c.ID, pass, summary); err != nil {
		return err
	}

	agg, err := s.caseAggregateStatus(st.ID)
	if err != nil {
		return err
	}
	if err := s.store.UpdateCaseStatus(st.ID, agg); err != nil {
		return err
	}
	return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
}

type caseBundleQuestion struct {
	Stem          string   `json:"stem"`
	Choices       []string `json:"choices"`
	CorrectChoice string   `json:"correct_choice"`
	Explanation   string   `json:"explanation"`
}

type caseBundle struct {
	Title             string               `json:"title"`
	Vignette          string               `json:"vignette"`
	LearningObjective string               `json:"learning_objective"`
	Questions         []caseBundleQuestion `json:"questions"`
}

func (s *Service) caseBundleJSON(c *models.Case) (string, error) {
	qs, err := s.store.ListQuestions(c.SubtopicID, &c.ID)
	if err != nil {
		return "", err
	}
	bundle := caseBundle{
		Title:             c.Title,
		Vignette:          c.Vignette,
		LearningObjective: c.LearningObjective,
	}
	for _, q := range qs {
		choices, err := s.store.ListChoices(q.ID)
		if err != nil {
			return "", err
		}
		bq := caseBundleQuestion{
			Stem:          q.Stem,
			CorrectChoice: q.CorrectChoice,
			Explanation:   q.Explanation,
		}
		for _, ch := range choices {
			bq.Choices = append(bq.Choices, ch.ChoiceText)
		}
		bundle.Questions = append(bundle.Questions, bq)
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// refreshCaseAggregate sets the subtopic case status to target only when
// every sibling case has questions; otherwise the subtopic stays pending.
// Terminal statuses are never overwritten.
func (s *Service) refreshCaseAggregate(subtopicID string, target models.CaseStatus) error {
	st, err := s.store.GetSubtopic(subtopicID)
	if err != nil {
		return err
	}
	if st == nil || models.TerminalCaseStatuses[st.CaseStatus] {
		return nil
	}
	cases, err := s.store.ListCases(subtopicID)
	if err != nil {
		return err
	}
	for _, c := range cases {
		has, err := s.store.CaseHasQuestions(c.ID)
		if err != nil {
			return err
		}
		if !has {
			return s.store.UpdateCaseStatus(subtopicID, models.CasePending)
		}
	}
	return s.store.UpdateCaseStatus(subtopicID, target)
}

// caseAggregateStatus rolls per-case verification up to the subtopic: any
// case without questions holds the subtopic at pending, any failed review
// fails it, all passes verify it, and a mixed in-flight state stays ready.
func (s *Service) caseAggregateStatus(subtopicID string) (models.CaseStatus, error) {
	cases, err := s.store.ListCases(subtopicID)
	if err != nil {
		return models.CasePending, err
	}
	allVerified := len(cases) > 0
	for _, c := range cases {
		has, err := s.store.CaseHasQuestions(c.ID)
		if err != nil {
			return models.CasePending, err
		}
		if !has {
			return models.CasePending, nil
		}
		if c.Verified == nil {
			allVerified = false
			continue
		}
		if !*c.Verified {
			return models.CaseFailed, nil
		}
	}
	if allVerified {
		return models.CaseVerified, nil
	}
	return models.CaseReady, nil
}
