// Package ingestion turns raw policy documents into chunks and loads them
// into the chunk store and both retrieval indexes.
package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/metrics"
	"github.com/quotegate/backend/internal/retrieval"
	"github.com/quotegate/backend/internal/storage/models"
	"github.com/quotegate/backend/pkg/logger"
)

type ChunkStore interface {
	ChunkIDs(docID string) ([]string, error)
	ReplaceDocument(docID string, chunks []models.Chunk) error
	DeleteDocument(docID string) (int64, error)
	ListChunks() ([]models.Chunk, error)
}

type LexicalIndex interface {
	Add(docs []retrieval.Document) error
	Delete(ids []string) error
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Source is one raw document.
type Source struct {
	Name    string
	Content string
	HTML    bool
}

type Processor struct {
	store        ChunkStore
	lexical      LexicalIndex
	vectors      retrieval.VectorIndex
	embedder     BatchEmbedder
	chunkSize    int
	chunkOverlap int
}

// NewProcessor wires the ingestion sinks. The store is the source of truth
// for which chunks a document owns; lexical and vectors may be nil.
func NewProcessor(store ChunkStore, lexical LexicalIndex, vectors retrieval.VectorIndex, embedder BatchEmbedder, chunkSize, chunkOverlap int) *Processor {
	return &Processor{
		store:        store,
		lexical:      lexical,
		vectors:      vectors,
		embedder:     embedder,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// ProcessDocument cleans, chunks, persists and indexes one document and
// returns its chunks.
func (p *Processor) ProcessDocument(ctx context.Context, src Source) ([]models.Chunk, error) {
	logger.Info("Processing document", zap.String("source", src.Name))

	text := src.Content
	if src.HTML {
		text = CleanHTML(text)
	}
	text = Normalize(text)
	if text == "" {
		return nil, fmt.Errorf("no content extracted from %s", src.Name)
	}

	docID := DocID(src.Name)
	now := time.Now()
	pieces := ChunkText(text, p.chunkSize, p.chunkOverlap)
	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:        fmt.Sprintf("%s_%03d", docID, i),
			DocID:     docID,
			Source:    src.Name,
			Position:  i,
			Text:      piece,
			CreatedAt: now,
		}
	}

	previous, err := p.store.ChunkIDs(docID)
	if err != nil {
		return nil, fmt.Errorf("failed to read previous chunks: %w", err)
	}
	current := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		current[ch.ID] = true
	}
	var stale []string
	for _, id := range previous {
		if !current[id] {
			stale = append(stale, id)
		}
	}
	if err := p.unindex(ctx, stale); err != nil {
		return nil, err
	}

	if err := p.store.ReplaceDocument(docID, chunks); err != nil {
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}

	if err := p.index(ctx, chunks); err != nil {
		return nil, err
	}

	logger.Info("Document processed successfully",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale_removed", len(stale)),
	)
	return chunks, nil
}

// IngestDir processes every .txt, .md, .html and .htm file in dir in name
// order. It returns the total number of chunks written.
func (p *Processor) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt", ".md", ".html", ".htm":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return total, fmt.Errorf("failed to read %s: %w", name, err)
		}
		ext := strings.ToLower(filepath.Ext(name))
		chunks, err := p.ProcessDocument(ctx, Source{
			Name:    name,
			Content: string(raw),
			HTML:    ext == ".html" || ext == ".htm",
		})
		if err != nil {
			logger.Warn("Skipping document", zap.String("source", name), zap.Error(err))
			continue
		}
		total += len(chunks)
	}
	return total, nil
}

// DeleteDocument removes every chunk of source from both indexes and then
// from the store. It returns the number of stored chunks removed.
func (p *Processor) DeleteDocument(ctx context.Context, source string) (int64, error) {
	docID := DocID(source)
	ids, err := p.store.ChunkIDs(docID)
	if err != nil {
		return 0, fmt.Errorf("failed to read chunks: %w", err)
	}
	if err := p.unindex(ctx, ids); err != nil {
		return 0, err
	}
	n, err := p.store.DeleteDocument(docID)
	if err != nil {
		return 0, err
	}

	logger.Info("Document deleted", zap.String("doc_id", docID), zap.Int64("chunks", n))
	return n, nil
}

// Load indexes every chunk already in the store. Used at startup.
func (p *Processor) Load(ctx context.Context) (int, error) {
	chunks, err := p.store.ListChunks()
	if err != nil {
		return 0, fmt.Errorf("failed to load chunks: %w", err)
	}
	if err := p.index(ctx, chunks); err != nil {
		return 0, err
	}
	logger.Info("Corpus loaded", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

func (p *Processor) index(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]retrieval.Document, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		docs[i] = retrieval.Document{ID: ch.ID, Text: ch.Text, Source: ch.Source}
		texts[i] = ch.Text
	}

	if p.lexical != nil {
		if err := p.lexical.Add(docs); err != nil {
			return fmt.Errorf("failed to index lexical: %w", err)
		}
	}

	if p.vectors != nil && p.embedder != nil {
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vecs) != len(docs) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vecs), len(docs))
		}
		if err := p.vectors.Upsert(ctx, docs, vecs); err != nil {
			return fmt.Errorf("failed to insert into vector index: %w", err)
		}
	}

	metrics.ChunksIndexed.Add(float64(len(chunks)))
	return nil
}

func (p *Processor) unindex(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if p.lexical != nil {
		if err := p.lexical.Delete(ids); err != nil {
			return fmt.Errorf("failed to remove from lexical index: %w", err)
		}
	}
	if p.vectors != nil {
		if err := p.vectors.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to remove from vector index: %w", err)
		}
	}
	return nil
}

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, td, th, dt, dd"

// CleanHTML extracts readable text, one block element per line. List items
// are rendered as "- " bullets.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var lines []string
	doc.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		// nested blocks are emitted by their outermost ancestor
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := strings.TrimSpace(collapseSpaces(s.Text()))
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "- " + text
		}
		lines = append(lines, text)
	})

	if len(lines) == 0 {
		return strings.TrimSpace(collapseSpaces(doc.Find("body").Text()))
	}
	return strings.Join(lines, "\n")
}

// Title returns the document title, falling back to the first heading.
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}

	if title == "" {
		title = "Untitled"
	}

	return strings.TrimSpace(title)
}

var (
	spaceRe     = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
	anySpaceRe  = regexp.MustCompile(`\s+`)
	nonSlugRune = regexp.MustCompile(`[^a-z0-9]+`)
)

func collapseSpaces(s string) string {
	return anySpaceRe.ReplaceAllString(s, " ")
}

// Normalize collapses runs of horizontal whitespace, trims every line and
// keeps at most one blank line between paragraphs. Line breaks survive so
// list items stay recognizable to the answer builder.
func Normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// ChunkText cuts text into windows of size runes, each starting overlap
// runes before the previous one ended. The last window ends at the text end.
// A non-positive size means 500; an overlap outside [0, size) means none.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for start := 0; ; start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// DocID derives a stable document id from its source name.
func DocID(source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	slug := strings.Trim(nonSlugRune.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if slug == "" {
		slug = "doc"
	}
	return slug
}
