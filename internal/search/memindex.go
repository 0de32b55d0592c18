package search

import (
	"context"
	"strings"
)

// MemIndex is an in-memory Index for tests and local development.
type MemIndex struct {
	Docs []Document
}

func NewMemIndex(docs ...Document) *MemIndex {
	return &MemIndex{Docs: docs}
}

func (m *MemIndex) Search(ctx context.Context, q Query) ([]Document, error) {
	var hits []Document
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "*" {
		needle = ""
	}
	for _, d := range m.Docs {
		if q.Topic != "" && d.Topic != q.Topic {
			continue
		}
		if q.Subtopic != "" && d.Subtopic != q.Subtopic {
			continue
		}
		if needle != "" && !memTextMatch(d, needle) {
			continue
		}
		hits = append(hits, d)
	}
	top := q.Top
	if top <= 0 {
		top = defaultPageSize
	}
	if q.Skip >= len(hits) {
		return nil, nil
	}
	hits = hits[q.Skip:]
	if len(hits) > top {
		hits = hits[:top]
	}
	return hits, nil
}

// memTextMatch mimics free-text search loosely: any query token appearing in
// the topic, subtopic, or content counts as a hit.
func memTextMatch(d Document, needle string) bool {
	hay := strings.ToLower(d.Topic + " " + d.Subtopic + " " + d.Content)
	for _, tok := range strings.Fields(needle) {
		if strings.Contains(hay, tok) {
			return true
		}
	}
	return false
}
