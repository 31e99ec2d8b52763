package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotegate/backend/internal/embedding"
	"github.com/quotegate/backend/internal/lexical"
	"github.com/quotegate/backend/internal/storage/models"
	"github.com/quotegate/backend/internal/vector/memory"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 5, 1, nil},
		{"shorter than window", "abc", 5, 1, []string{"abc"}},
		{"exact window", "abcde", 5, 1, []string{"abcde"}},
		{"overlapping", "abcdefghij", 4, 1, []string{"abcd", "defg", "ghij"}},
		{"tail", "abcdefgh", 4, 1, []string{"abcd", "defg", "gh"}},
		{"runes", "ééééé", 3, 1, []string{"ééé", "ééé"}},
		{"overlap equals size", "abcdefgh", 4, 4, []string{"abcd", "efgh"}},
		{"overlap larger than size", "abcdefgh", 4, 9, []string{"abcd", "efgh"}},
		{"negative overlap", "abcdefgh", 4, -2, []string{"abcd", "efgh"}},
		{"zero size", "abc", 0, 0, []string{"abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkText(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestChunkTextDefaults(t *testing.T) {
	text := strings.Repeat("a", 1000)
	chunks := ChunkText(text, 500, 80)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 160)
}

func TestNormalize(t *testing.T) {
	in := "  Leave   Policy \r\n\n\n\n- Employees\tmay  take leave  \n"
	assert.Equal(t, "Leave Policy\n\n- Employees may take leave", Normalize(in))
}

func TestCleanHTML(t *testing.T) {
	html := `<html><head><title>Leave Policy</title><script>var x = 1;</script></head>
	<body><nav>Home</nav>
	<h1>Leave   Policy</h1>
	<p>Employees on probation may not take leave.</p>
	<ul><li>Sick leave needs a <b>doctor's</b> note</li><li><p>Annual leave is 20 days</p></li></ul>
	<footer>Copyright</footer></body></html>`

	text := CleanHTML(html)
	assert.Equal(t, "Leave Policy\nEmployees on probation may not take leave.\n- Sick leave needs a doctor's note\n- Annual leave is 20 days", text)
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "Copyright")
	assert.Equal(t, "Leave Policy", Title(html))
}

func TestDocID(t *testing.T) {
	assert.Equal(t, "leave_policy", DocID("docs/Leave Policy.md"))
	assert.Equal(t, "doc", DocID("---.txt"))
}

type memStore struct {
	chunks []models.Chunk
}

func (m *memStore) ChunkIDs(docID string) ([]string, error) {
	var ids []string
	for _, ch := range m.chunks {
		if ch.DocID == docID {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}

func (m *memStore) ReplaceDocument(docID string, chunks []models.Chunk) error {
	m.DeleteDocument(docID)
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) DeleteDocument(docID string) (int64, error) {
	kept := m.chunks[:0]
	for _, ch := range m.chunks {
		if ch.DocID != docID {
			kept = append(kept, ch)
		}
	}
	n := int64(len(m.chunks) - len(kept))
	m.chunks = kept
	return n, nil
}

func (m *memStore) ListChunks() ([]models.Chunk, error) { return m.chunks, nil }

func TestProcessDocumentIndexesEverywhere(t *testing.T) {
	lex, err := lexical.New("")
	require.NoError(t, err)
	defer lex.Close()
	vec := memory.New()
	store := &memStore{}

	p := NewProcessor(store, lex, vec, embedding.NewHashing(64), 40, 10)
	chunks, err := p.ProcessDocument(context.Background(), Source{
		Name:    "leave.md",
		Content: "Employees on probation may not take leave.\nSick leave requires a medical certificate after two days.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "leave_000", chunks[0].ID)
	assert.Equal(t, "leave.md", chunks[0].Source)

	assert.Len(t, store.chunks, len(chunks))
	assert.Equal(t, len(chunks), lex.Count())
	assert.Equal(t, len(chunks), vec.Len())

	hits, err := lex.SearchLexical(context.Background(), "probation", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "leave_000", hits[0].ID)

	_, err = p.ProcessDocument(context.Background(), Source{Name: "empty.html", Content: "<html><body> </body></html>", HTML: true})
	assert.Error(t, err)
}

const (
	longRevision  = "Annual leave is twenty days per year.\nEmployees on probation may take unlimited leave at any time."
	shortRevision = "Annual leave is twenty days per year."
)

func TestProcessDocumentReplacesShorterRevision(t *testing.T) {
	ctx := context.Background()
	lex, err := lexical.New("")
	require.NoError(t, err)
	defer lex.Close()
	vec := memory.New()
	store := &memStore{}
	p := NewProcessor(store, lex, vec, embedding.NewHashing(64), 40, 10)

	first, err := p.ProcessDocument(ctx, Source{Name: "hr.md", Content: longRevision})
	require.NoError(t, err)
	require.Greater(t, len(first), 1)

	second, err := p.ProcessDocument(ctx, Source{Name: "hr.md", Content: shortRevision})
	require.NoError(t, err)
	require.Len(t, second, 1)

	require.Len(t, store.chunks, 1)
	assert.Equal(t, "hr_000", store.chunks[0].ID)
	assert.Equal(t, shortRevision, store.chunks[0].Text)
	assert.Equal(t, 1, lex.Count())
	assert.Equal(t, 1, vec.Len())

	hits, err := lex.SearchLexical(ctx, "unlimited probation", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	q, err := embedding.NewHashing(64).Embed(ctx, "unlimited leave")
	require.NoError(t, err)
	dense, err := vec.Search(ctx, q, 5)
	require.NoError(t, err)
	require.Len(t, dense, 1)
	assert.Equal(t, "hr_000", dense[0].ID)
}

func TestDeleteDocumentReachesEverySink(t *testing.T) {
	ctx := context.Background()
	lex, err := lexical.New("")
	require.NoError(t, err)
	defer lex.Close()
	vec := memory.New()
	store := &memStore{}
	p := NewProcessor(store, lex, vec, embedding.NewHashing(64), 40, 10)

	chunks, err := p.ProcessDocument(ctx, Source{Name: "hr.md", Content: longRevision})
	require.NoError(t, err)
	_, err = p.ProcessDocument(ctx, Source{Name: "notice.md", Content: "Notice is thirty days."})
	require.NoError(t, err)

	n, err := p.DeleteDocument(ctx, "docs/hr.md")
	require.NoError(t, err)
	assert.EqualValues(t, len(chunks), n)
	assert.Len(t, store.chunks, 1)
	assert.Equal(t, 1, lex.Count())
	assert.Equal(t, 1, vec.Len())

	n, err = p.DeleteDocument(ctx, "hr.md")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngestDirAndLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("Notice period is thirty days."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte("<p>Probation lasts six months.</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.pdf"), []byte("binary"), 0o644))

	store := &memStore{}
	n, err := NewProcessor(store, nil, nil, nil, 500, 80).IngestDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "a_000", store.chunks[0].ID)
	assert.Equal(t, "Probation lasts six months.", store.chunks[0].Text)

	lex, err := lexical.New("")
	require.NoError(t, err)
	defer lex.Close()
	loaded, err := NewProcessor(store, lex, nil, nil, 500, 80).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, lex.Count())
}
