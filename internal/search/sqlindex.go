package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SQLIndex serves the corpus out of the source_documents table. Free-text
// queries are token ILIKE matches over topic, subtopic, and content, which is
// enough for label resolution and coverage estimates.
type SQLIndex struct {
	db *sql.DB
}

func NewSQLIndex(db *sql.DB) *SQLIndex {
	return &SQLIndex{db: db}
}

func (s *SQLIndex) Search(ctx context.Context, q Query) ([]Document, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.Topic != "" {
		add("topic = $%d", q.Topic)
	}
	if q.Subtopic != "" {
		add("subtopic = $%d", q.Subtopic)
	}
	text := strings.TrimSpace(q.Text)
	if text != "" && text != "*" {
		var tokenConds []string
		for _, tok := range strings.Fields(text) {
			args = append(args, "%"+tok+"%")
			n := len(args)
			tokenConds = append(tokenConds, fmt.Sprintf(
				"(topic ILIKE $%d OR subtopic ILIKE $%d OR content ILIKE $%d)", n, n, n))
		}
		conds = append(conds, "("+strings.Join(tokenConds, " OR ")+")")
	}

	query := `
		SELECT id, topic, subtopic, COALESCE(sub_subtopic, ''), COALESCE(heading_path, ''),
		       COALESCE(sequence, ''), COALESCE(chunk_index, 0), content,
		       COALESCE(refs, '[]'), COALESCE(char_count, 0)
		FROM source_documents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY topic, subtopic, sequence, chunk_index, id"

	top := q.Top
	if top <= 0 {
		top = defaultPageSize
	}
	args = append(args, top)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, q.Skip)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source_documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var refsJSON []byte
		if err := rows.Scan(&d.ID, &d.Topic, &d.Subtopic, &d.SubSubtopic, &d.HeadingPath,
			&d.Sequence, &d.ChunkIndex, &d.Content, &refsJSON, &d.CharCount); err != nil {
			return nil, fmt.Errorf("scan source document: %w", err)
		}
		if len(refsJSON) > 0 {
			if err := json.Unmarshal(refsJSON, &d.References); err != nil {
				return nil, fmt.Errorf("decode refs for document %s: %w", d.ID, err)
			}
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
