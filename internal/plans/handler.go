package plans

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/admin-masters/Ai-cme/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// EnqueueTopic accepts a topic name, seeds its outline placeholders, and
// kicks off the pipeline.
func (h *Handler) EnqueueTopic(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "topic is required"})
		return
	}

	topic, seeded, err := h.service.EnqueueTopic(r.Context(), req.Topic, req.Credits)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to enqueue topic: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, models.EnqueueTopicResponse{
		TopicID:         topic.ID,
		SeededSubtopics: seeded,
	})
}

// EnqueueSubtopics pushes a topic's generated outline into reference
// harvesting.
func (h *Handler) EnqueueSubtopics(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]

	topic, err := h.service.store.GetTopic(topicID)
	if err != nil || topic == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Topic not found"})
		return
	}
	resp, err := h.service.EnqueueSubtopics(r.Context(), topicID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to enqueue subtopics: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetTopicStatus reports per-subtopic pipeline state for a topic.
func (h *Handler) GetTopicStatus(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]

	topic, err := h.service.store.GetTopic(topicID)
	if err != nil || topic == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Topic not found"})
		return
	}
	subs, err := h.service.store.ListSubtopics(topicID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list subtopics"})
		return
	}
	if subs == nil {
		subs = []models.Subtopic{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topic":     topic,
		"subtopics": subs,
	})
}

// GetStudyPlan returns the assembled plan document, or 404 while assembly is
// still in flight.
func (h *Handler) GetStudyPlan(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]

	doc, err := h.service.store.GetStudyPlan(topicID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load plan"})
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Plan not assembled yet"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetContentGaps lists the subtopics flagged insufficient at assembly time.
func (h *Handler) GetContentGaps(w http.ResponseWriter, r *http.Request) {
	topicID := mux.Vars(r)["id"]

	gaps, err := h.service.store.ListContentGaps(topicID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list content gaps"})
		return
	}
	if gaps == nil {
		gaps = []models.ContentGap{}
	}
	writeJSON(w, http.StatusOK, gaps)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
