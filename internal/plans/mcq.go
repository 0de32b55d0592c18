package plans

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/admin-masters/Ai-cme/internal/generator"
	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
)

// GenerateMCQs is the mcq-queue handler. It plans how many questions the
// subtopic deserves, generates them under a validation loop, and marks the
// subtopic mcq_ready.
func (s *Service) GenerateMCQs(ctx context.Context, subtopicID string) error {
	st, err := s.store.GetSubtopic(subtopicID)
	if err != nil {
		return err
	}
	if st == nil {
		return s.requeueOnce(ctx, "mcq", subtopicID, "subtopic_not_found", models.MCQQueue, "subtopic_id")
	}
	if st.Status != models.StatusMCQPending {
		return nil
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
		if err := s.store.LogFailure("mcq", st.ID, "concept missing"); err != nil {
			return err
		}
		if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusFailed); err != nil {
			return err
		}
		return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
	}

	plan, err := s.gen.PlanMCQs(ctx, topic.Name, st.Title, concept.Content, s.cfg.MaxMCQsPerSubtopic)
	if err != nil {
		return err
	}
	if planJSON, err := json.Marshal(plan); err == nil {
		if err := s.store.SaveQAReview("mcq_plan", st.ID, "planned", string(planJSON), ""); err != nil {
			return err
		}
	}

	blocks, problems, err := s.generateValidated(ctx, topic.Name, st.Title, concept.Content, plan)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		if len(problems) > 0 {
			// every attempt was rejected by review; terminal, one fail-log
			// row carrying the findings
			if err := s.store.LogFailure("mcq", st.ID, strings.Join(problems, "; ")); err != nil {
				return err
			}
			if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusFailed); err != nil {
				return err
			}
			return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
		}
		// the model returned nothing at all; treat as transient once
		if err := s.requeueOnce(ctx, "mcq", st.ID, "no_mcqs_returned", models.MCQQueue, "subtopic_id"); err != nil {
			return err
		}
		n, err := s.store.CountFailures("mcq", st.ID, "no_mcqs_returned")
		if err != nil {
			return err
		}
		if n > 1 {
			if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusFailed); err != nil {
				return err
			}
			return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
		}
		return nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	saved := make([]SavedQuestion, 0, len(blocks))
	for _, b := range blocks {
		b = generator.ShuffleMCQ(b, rng)
		saved = append(saved, toSavedQuestion(st.ID, nil, b))
	}
	if _, err := s.store.SaveQuestions(ctx, saved); err != nil {
		return err
	}

	if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusMCQReady); err != nil {
		return err
	}
	log.Printf("[mcq] saved %d question(s) for %s (%s)", len(saved), st.ID, st.Title)
	return s.broker.Publish(ctx, models.PlanQueue, queue.IDPayload("topic_id", st.TopicID))
}

// generateValidated runs the generate/review loop. Findings from each failed
// round are fed back into the next prompt; only blocks that pass review (with
// both variants present) are kept. An empty model response returns with no
// findings so the caller can requeue; exhausted validation returns the last
// round's findings so the caller can fail the subtopic with the reasons.
func (s *Service) generateValidated(ctx context.Context, topic, subtopic, concept string, plan *generator.MCQPlan) ([]generator.MCQBlock, []string, error) {
	var problems []string
	for attempt := 1; attempt <= s.cfg.MCQMaxAttempts; attempt++ {
		blocks, err := s.gen.GenerateMCQBatch(ctx, topic, subtopic, concept, plan, problems)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			return nil, nil, nil
		}
		if len(blocks) > plan.Recommendation.Count {
			blocks = blocks[:plan.Recommendation.Count]
		}

		problems = problems[:0]
		accepted := make([]generator.MCQBlock, 0, len(blocks))
		for _, b := range blocks {
			if b.Variant1 == nil || b.Variant2 == nil {
				filled, err := s.gen.EnsureVariants(ctx, b)
				if err != nil {
					log.Printf("[mcq] WARNING: variant fill failed for %q: %v", subtopic, err)
				} else {
					b = filled
				}
			}
			if findings := generator.ReviewMCQBlock(b, concept, subtopic); len(findings) > 0 {
				problems = append(problems, findings...)
				continue
			}
			accepted = append(accepted, b)
		}
		if len(accepted) > 0 && len(problems) == 0 {
			return accepted, nil, nil
		}
		if len(accepted) >= plan.Recommendation.Count {
			return accepted, nil, nil
		}
		log.Printf("[mcq] attempt %d/%d for %q: %d accepted, %d finding(s)",
			attempt, s.cfg.MCQMaxAttempts, subtopic, len(accepted), len(problems))
		if attempt == s.cfg.MCQMaxAttempts && len(accepted) > 0 {
			// partial batch beats none on the last round
			return accepted, nil, nil
		}
	}
	return nil, problems, nil
}

// requeueOnce republishes a message a single time, using the fail log as the
// durable attempt counter so the payload stays a bare entity id.
func (s *Service) requeueOnce(ctx context.Context, stage, entityID, reason, queueName, idField string) error {
	n, err := s.store.CountFailures(stage, entityID, reason)
	if err != nil {
		return err
	}
	if err := s.store.LogFailure(stage, entityID, reason); err != nil {
		return err
	}
	if n >= 1 {
		log.Printf("[%s] WARNING: dropping %s after retry (%s)", stage, entityID, reason)
		return nil
	}
	log.Printf("[%s] requeueing %s once (%s)", stage, entityID, reason)
	return s.broker.Publish(ctx, queueName, queue.IDPayload(idField, entityID))
}

func toSavedQuestion(subtopicID string, caseID *string, b generator.MCQBlock) SavedQuestion {
	q := SavedQuestion{
		SubtopicID:    subtopicID,
		CaseID:        caseID,
		Stem:          b.Stem,
		CorrectChoice: b.Choices[b.CorrectIndex],
		Explanation:   b.Explanation,
	}
	for i, c := range b.Choices {
		q.Choices = append(q.Choices, models.Choice{
			ChoiceIndex: i,
			ChoiceText:  c,
			Rationale:   b.Rationales[i],
		})
	}
	if b.Variant1 != nil {
		q.Variants = append(q.Variants, models.Variant{
			VariantNo: 1, Stem: b.Variant1.Stem, CorrectChoiceIndex: b.Variant1.CorrectIndex,
		})
	}
	if b.Variant2 != nil {
		q.Variants = append(q.Variants, models.Variant{
			VariantNo: 2, Stem: b.Variant2.Stem, CorrectChoiceIndex: b.Variant2.CorrectIndex,
		})
	}
	return q
}
