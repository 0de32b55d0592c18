package plans

import (
	"context"
	"crypto/sha1"
	"fmt"
	"log"

	"github.com/admin-masters/Ai-cme/internal/models"
	"github.com/admin-masters/Ai-cme/internal/queue"
	"github.com/admin-masters/Ai-cme/internal/search"
	"github.com/admin-masters/Ai-cme/internal/textkit"
)

const maxExcerptChars = 400

// HarvestReferences is the subtopic-queue handler. It collects the source
// citations backing a subtopic and advances it to concept generation; a
// subtopic with no citations is parked as refs_missing rather than allowed to
// produce an unreferenced concept.
func (s *Service) HarvestReferences(ctx context.Context, subtopicID string) error {
	st, err := s.store.GetSubtopic(subtopicID)
	if err != nil {
		return err
	}
	if st == nil {
		log.Printf("[references] subtopic %s no longer exists, dropping", subtopicID)
		return nil
	}
	if st.Status != models.StatusRefsPending {
		// redelivery of an already-advanced subtopic
		return nil
	}

	topic, err := s.store.GetTopic(st.TopicID)
	if err != nil {
		return err
	}

	refs, err := s.retriever.FetchReferences(ctx, topic.Name, st.Title)
	if err != nil {
		return fmt.Errorf("fetch references: %w", err)
	}

	linked := 0
	for _, text := range refs {
		ref := models.Reference{
			SourceID:     refSourceID(text),
			CitationLink: search.ExtractURL(text),
			Excerpt:      shortenExcerpt(text),
		}
		refID, err := s.store.SaveReference(ref)
		if err != nil {
			return err
		}
		if err := s.store.LinkSubtopicReference(st.ID, refID); err != nil {
			return err
		}
		linked++
	}

	if linked == 0 {
		if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusRefsMissing); err != nil {
			return err
		}
		if err := s.store.AppendCoverageNote(st.ID, "no source references found"); err != nil {
			return err
		}
		log.Printf("[references] WARNING: subtopic %s (%s) has no references", st.ID, st.Title)
		return nil
	}

	if err := s.store.UpdateSubtopicStatus(st.ID, models.StatusConceptPending); err != nil {
		return err
	}
	log.Printf("[references] subtopic %s linked %d reference(s)", st.ID, linked)
	return s.broker.Publish(ctx, models.ConceptQueue, queue.IDPayload("subtopic_id", st.ID))
}

// refSourceID keys a reference by its content so the same citation harvested
// through different subtopics lands on one row.
func refSourceID(text string) string {
	return fmt.Sprintf("ref:%x", sha1.Sum([]byte(text)))
}

func shortenExcerpt(text string) string {
	if len(text) <= maxExcerptChars {
		return text
	}
	return textkit.StripEllipsis(text[:maxExcerptChars]) + "..."
}
