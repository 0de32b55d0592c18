// Package search is the source-retrieval adapter: it queries a corpus index
// for passages and bibliography entries tied to (topic, subtopic), resolves
// mismatched topic labels, and composes bounded-length source text.
package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Document is one indexed chunk of the source corpus.
type Document struct {
	ID          string   `json:"id"`
	Topic       string   `json:"topic"`
	Subtopic    string   `json:"subtopic"`
	SubSubtopic string   `json:"sub_subtopic"`
	HeadingPath string   `json:"heading_path"`
	Sequence    string   `json:"sequence"`
	ChunkIndex  int      `json:"chunk_index"`
	Content     string   `json:"content"`
	References  []string `json:"references"`
	CharCount   int      `json:"char_count"`
}

// Query filters are exact matches; Text is a free-text needle ("" matches all).
type Query struct {
	Text     string
	Topic    string
	Subtopic string
	Top      int
	Skip     int
}

// Index is the corpus backend. Implementations must honor Top/Skip paging and
// return documents in a stable order.
type Index interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

// Retriever layers the fetch/compose operations over a raw Index.
type Retriever struct {
	idx Index
}

func NewRetriever(idx Index) *Retriever {
	return &Retriever{idx: idx}
}

const (
	defaultPageSize = 1000
	maxScan         = 100000
)

func (r *Retriever) searchAll(ctx context.Context, q Query) ([]Document, error) {
	pageSize := q.Top
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var out []Document
	skip := 0
	for {
		page := q
		page.Top = pageSize
		page.Skip = skip
		batch, err := r.idx.Search(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("index search: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		if len(batch) < pageSize {
			break
		}
		skip += len(batch)
		if skip > maxScan {
			break
		}
	}
	return out, nil
}

// ResolveTopic maps a stored topic name to the most frequent matching index
// topic label. Returns the input unchanged when nothing matches.
func (r *Retriever) ResolveTopic(ctx context.Context, topicName string) string {
	docs, err := r.searchAll(ctx, Query{Text: topicName, Top: 50})
	if err != nil {
		return topicName
	}
	freq := make(map[string]int)
	for _, d := range docs {
		if t := strings.TrimSpace(d.Topic); t != "" {
			freq[t]++
		}
	}
	best, bestN := topicName, 0
	for t, n := range freq {
		if n > bestN || (n == bestN && t < best) {
			best, bestN = t, n
		}
	}
	if bestN == 0 {
		return topicName
	}
	return best
}

// resolveByFallback handles a (topic, subtopic) miss: query by subtopic only,
// pick the most frequent co-occurring topic, and retry with that label.
func (r *Retriever) resolveByFallback(ctx context.Context, topicName, subTitle string) ([]Document, error) {
	docs, err := r.searchAll(ctx, Query{Text: topicName, Subtopic: subTitle, Top: 250})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	freq := make(map[string]int)
	for _, d := range docs {
		if t := strings.TrimSpace(d.Topic); t != "" {
			freq[t]++
		}
	}
	best, bestN := "", 0
	for t, n := range freq {
		if n > bestN || (n == bestN && t < best) {
			best, bestN = t, n
		}
	}
	if best == "" {
		return nil, nil
	}
	return r.searchAll(ctx, Query{Topic: best, Subtopic: subTitle})
}

// FetchPassages returns all chunks for (topic, subtopic) in stable reading
// order, falling back to topic resolution when the exact filter misses.
// An empty result is a valid outcome, not an error.
func (r *Retriever) FetchPassages(ctx context.Context, topicName, subTitle string) ([]Document, error) {
	docs, err := r.searchAll(ctx, Query{Topic: topicName, Subtopic: subTitle})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		docs, err = r.resolveByFallback(ctx, topicName, subTitle)
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docLess(docs[i], docs[j])
	})
	return docs, nil
}

func docLess(a, b Document) bool {
	ka, kb := SequenceKey(a.Sequence), SequenceKey(b.Sequence)
	if ka != kb {
		return ka.less(kb)
	}
	if a.HeadingPath != b.HeadingPath {
		return a.HeadingPath < b.HeadingPath
	}
	if a.SubSubtopic != b.SubSubtopic {
		return a.SubSubtopic < b.SubSubtopic
	}
	if a.ChunkIndex != b.ChunkIndex {
		return a.ChunkIndex < b.ChunkIndex
	}
	return a.ID < b.ID
}

// ComposeSource merges ordered chunks into one raw source string, grouping by
// sub-subtopic (untitled material first) and truncating to maxChars.
func ComposeSource(docs []Document, maxChars int) string {
	if len(docs) == 0 {
		return ""
	}
	grouped := make(map[string][]string)
	var keys []string
	for _, d := range docs {
		k := strings.TrimSpace(d.SubSubtopic)
		if _, ok := grouped[k]; !ok {
			keys = append(keys, k)
		}
		if c := strings.TrimSpace(d.Content); c != "" {
			grouped[k] = append(grouped[k], c)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i] == "") != (keys[j] == "") {
			return keys[i] == ""
		}
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var blocks []string
	for _, k := range keys {
		parts := grouped[k]
		if len(parts) == 0 {
			continue
		}
		joined := strings.Join(parts, "\n\n")
		if k != "" {
			joined = "SUB-SUBTOPIC: " + k + "\n" + joined
		}
		blocks = append(blocks, joined)
	}
	out := strings.TrimSpace(strings.Join(blocks, "\n\n"))
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return out
}

var wsRun = regexp.MustCompile(`\s+`)

// FetchReferences returns the unique bibliography strings for a subtopic,
// whitespace-normalized, with the same topic-resolution fallback as passages.
func (r *Retriever) FetchReferences(ctx context.Context, topicName, subTitle string) ([]string, error) {
	docs, err := r.searchAll(ctx, Query{Topic: topicName, Subtopic: subTitle})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		docs, err = r.resolveByFallback(ctx, topicName, subTitle)
		if err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, d := range docs {
		for _, ref := range d.References {
			rs := wsRun.ReplaceAllString(strings.TrimSpace(ref), " ")
			if rs == "" || seen[rs] {
				continue
			}
			seen[rs] = true
			out = append(out, rs)
		}
	}
	return out, nil
}

// EstimateCoverage sums the content length of the top free-text hits for a
// (topic, subtopic) pair. Errors count as zero coverage.
func (r *Retriever) EstimateCoverage(ctx context.Context, topicName, subTitle string) int {
	docs, err := r.idx.Search(ctx, Query{Text: topicName + " " + subTitle, Top: 10})
	if err != nil {
		return 0
	}
	total := 0
	for _, d := range docs {
		total += len(d.Content)
	}
	return total
}

// ── outline enumeration ────────────────────────────────

var vignettePat = regexp.MustCompile(`(?i)\b(vignett|case\s+vignette|case\s+stud(y|ies)|case\s+based)\b`)

// OutlineRow is one subtopic heading enumerated from the index.
type OutlineRow struct {
	Subtopic      string
	Sequence      string
	CoverageChars int
}

// Outline enumerates the corpus-native subtopic headings for a topic, split
// into teachable rows and vignette-labeled sections (returned separately with
// full content for case ingestion). The resolved topic label is returned so
// callers can correct the stored topic name.
func (r *Retriever) Outline(ctx context.Context, topicName string) (string, []OutlineRow, []Document, error) {
	resolved := r.ResolveTopic(ctx, topicName)

	docs, err := r.searchAll(ctx, Query{Topic: resolved})
	if err != nil {
		return resolved, nil, nil, err
	}

	type rowAcc struct {
		row OutlineRow
		key seqKey
	}
	bySub := make(map[string]*rowAcc)
	vignetteSubs := make(map[string]bool)

	for _, d := range docs {
		st := strings.TrimSpace(d.Subtopic)
		if st == "" {
			continue
		}
		if vignettePat.MatchString(st) {
			vignetteSubs[st] = true
			continue
		}
		cc := d.CharCount
		if cc == 0 {
			cc = len(d.Content)
		}
		acc, ok := bySub[st]
		if !ok {
			bySub[st] = &rowAcc{
				row: OutlineRow{Subtopic: st, Sequence: d.Sequence, CoverageChars: cc},
				key: SequenceKey(d.Sequence),
			}
			continue
		}
		acc.row.CoverageChars += cc
		if k := SequenceKey(d.Sequence); k.less(acc.key) {
			acc.row.Sequence = d.Sequence
			acc.key = k
		}
	}

	rows := make([]*rowAcc, 0, len(bySub))
	for _, acc := range bySub {
		rows = append(rows, acc)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			return rows[i].key.less(rows[j].key)
		}
		return strings.ToLower(rows[i].row.Subtopic) < strings.ToLower(rows[j].row.Subtopic)
	})
	outline := make([]OutlineRow, len(rows))
	for i, acc := range rows {
		outline[i] = acc.row
	}

	var vignetteDocs []Document
	var names []string
	for vs := range vignetteSubs {
		names = append(names, vs)
	}
	sort.Strings(names)
	for _, vs := range names {
		vd, err := r.searchAll(ctx, Query{Topic: resolved, Subtopic: vs})
		if err != nil {
			return resolved, outline, vignetteDocs, err
		}
		vignetteDocs = append(vignetteDocs, vd...)
	}
	return resolved, outline, vignetteDocs, nil
}

// StitchVignetteText concatenates vignette chunks in reading order up to
// maxChars, clipping the final chunk rather than dropping it.
func StitchVignetteText(docs []Document, maxChars int) string {
	if len(docs) == 0 {
		return ""
	}
	ordered := make([]Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		ki, kj := SequenceKey(ordered[i].Sequence), SequenceKey(ordered[j].Sequence)
		if ki != kj {
			return ki.less(kj)
		}
		if ordered[i].ChunkIndex != ordered[j].ChunkIndex {
			return ordered[i].ChunkIndex < ordered[j].ChunkIndex
		}
		return ordered[i].HeadingPath < ordered[j].HeadingPath
	})

	var parts []string
	used := 0
	for _, d := range ordered {
		c := strings.TrimSpace(d.Content)
		if c == "" {
			continue
		}
		if used+len(c) > maxChars {
			if room := maxChars - used; room > 0 {
				parts = append(parts, c[:room])
			}
			break
		}
		parts = append(parts, c)
		used += len(c)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// ── sequence keys ──────────────────────────────────────

var seqRE = regexp.MustCompile(`^(\d+)([a-zA-Z]?)(?:\.(\d+))?$`)

type seqKey struct {
	major, letter, minor int
	raw                  string
}

func (k seqKey) less(o seqKey) bool {
	if k.major != o.major {
		return k.major < o.major
	}
	if k.letter != o.letter {
		return k.letter < o.letter
	}
	if k.minor != o.minor {
		return k.minor < o.minor
	}
	return k.raw < o.raw
}

// SequenceKey parses heading sequence labels like "3", "3a", or "3a.2" into a
// sortable key. Unparseable labels sort last, ordered by raw text.
func SequenceKey(seq string) seqKey {
	s := strings.TrimSpace(seq)
	m := seqRE.FindStringSubmatch(s)
	if m == nil {
		return seqKey{major: 1 << 30, letter: 1 << 30, minor: 1 << 30, raw: s}
	}
	major, _ := strconv.Atoi(m[1])
	letter := 0
	if m[2] != "" {
		letter = int(strings.ToLower(m[2])[0]-'a') + 1
	}
	minor := 0
	if m[3] != "" {
		minor, _ = strconv.Atoi(m[3])
	}
	return seqKey{major: major, letter: letter, minor: minor, raw: s}
}

// ── citation URL extraction ────────────────────────────

var (
	urlMarkdown = regexp.MustCompile(`(?i)\]\((https?://[^)\s]+)\)`)
	urlAny      = regexp.MustCompile(`(?i)(https?://[^\s)]+)`)
	httpSpaceS  = regexp.MustCompile(`(?i)\bhttp\s+s://`)
	httpsSpace  = regexp.MustCompile(`(?i)\bhttps\s*://`)
	httpSpace   = regexp.MustCompile(`(?i)\bhttp\s*://`)
)

func cleanURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	// fix spacing artefacts seen in source manifests, e.g. "http s://"
	u = httpSpaceS.ReplaceAllString(u, "https://")
	u = httpsSpace.ReplaceAllString(u, "https://")
	u = httpSpace.ReplaceAllString(u, "http://")
	return wsRun.ReplaceAllString(u, "")
}

// ExtractURL pulls the first link out of a citation string, preferring
// markdown-style links over bare URLs.
func ExtractURL(ref string) string {
	s := strings.TrimSpace(ref)
	if s == "" {
		return ""
	}
	if m := urlMarkdown.FindStringSubmatch(s); m != nil {
		return cleanURL(m[1])
	}
	if m := urlAny.FindStringSubmatch(s); m != nil {
		return cleanURL(m[1])
	}
	return ""
}
