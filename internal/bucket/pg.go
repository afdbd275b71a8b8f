package bucket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/quillworks/quill/internal/log"
)

// Querier is the subset of pgxpool.Pool the engine needs. Declared on the
// consumer side so tests can substitute a pgx mock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	// embeddingDim matches text-embedding-004 output.
	embeddingDim = 768

	searchTimeout = 30 * time.Second

	// ModeHybrid merges vector similarity with keyword matches and is the
	// default. ModeVector and ModeKeyword run a single strategy.
	ModeHybrid  = "hybrid"
	ModeVector  = "vector"
	ModeKeyword = "keyword"
)

// PGEngine indexes bucket documents as embedded chunks in PostgreSQL with
// pgvector and answers queries by retrieval plus model synthesis. All
// namespaces share one table; rows are scoped by the namespace column.
type PGEngine struct {
	db        Querier
	embedder  ai.Embedder
	genkit    *genkit.Genkit
	modelName string
	topK      int
	logger    log.Logger

	schemaOnce sync.Once
	schemaErr  error
}

// NewPGEngine creates an engine over an existing connection pool. The pool's
// lifecycle belongs to the caller. genkitApp may be nil, in which case query
// answers fall back to raw retrieved excerpts.
func NewPGEngine(db Querier, embedder ai.Embedder, genkitApp *genkit.Genkit, modelName string, topK int, logger log.Logger) (*PGEngine, error) {
	if db == nil {
		return nil, errors.New("querier is nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if topK <= 0 {
		topK = 5
	}

	return &PGEngine{
		db:        db,
		embedder:  embedder,
		genkit:    genkitApp,
		modelName: modelName,
		topK:      topK,
		logger:    logger,
	}, nil
}

// EnsureIndex creates the shared chunk table on first call. Later calls,
// whatever the namespace, are no-ops once the schema exists.
func (e *PGEngine) EnsureIndex(ctx context.Context, namespace string) error {
	e.schemaOnce.Do(func() {
		e.schemaErr = e.createSchema(ctx)
	})
	if e.schemaErr != nil {
		return fmt.Errorf("ensuring index for %s: %w", namespace, e.schemaErr)
	}
	return nil
}

func (e *PGEngine) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS bucket_chunks (
			id BIGSERIAL PRIMARY KEY,
			namespace TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			seq INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS idx_bucket_chunks_namespace ON bucket_chunks (namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_bucket_chunks_doc ON bucket_chunks (namespace, doc_id)`,
	}
	for _, stmt := range statements {
		if _, err := e.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating chunk schema: %w", err)
		}
	}
	return nil
}

// Ingest chunks the content, embeds every chunk, and stores the rows.
// Re-ingesting a document ID replaces its previous chunks.
func (e *PGEngine) Ingest(ctx context.Context, namespace, docID, content string) error {
	chunks := splitChunks(content)
	if len(chunks) == 0 {
		return errors.New("no content to index")
	}

	if _, err := e.db.Exec(ctx,
		`DELETE FROM bucket_chunks WHERE namespace = $1 AND doc_id = $2`,
		namespace, docID); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}

	for i, chunk := range chunks {
		vec, err := e.embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		if _, err := e.db.Exec(ctx,
			`INSERT INTO bucket_chunks (namespace, doc_id, seq, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			namespace, docID, i, chunk, vec); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}

	e.logger.Debug("document indexed",
		"namespace", namespace,
		"doc_id", docID,
		"chunks", len(chunks))

	return nil
}

// Remove deletes every chunk of the document.
func (e *PGEngine) Remove(ctx context.Context, namespace, docID string) error {
	if _, err := e.db.Exec(ctx,
		`DELETE FROM bucket_chunks WHERE namespace = $1 AND doc_id = $2`,
		namespace, docID); err != nil {
		return fmt.Errorf("removing document chunks: %w", err)
	}
	return nil
}

// DropIndex deletes every chunk under the namespace.
func (e *PGEngine) DropIndex(ctx context.Context, namespace string) error {
	if _, err := e.db.Exec(ctx,
		`DELETE FROM bucket_chunks WHERE namespace = $1`,
		namespace); err != nil {
		return fmt.Errorf("dropping namespace chunks: %w", err)
	}
	return nil
}

// Query retrieves the most relevant chunks for the query text and, when a
// model is available, synthesizes a focused answer from them. Without a
// model the raw excerpts are returned joined.
func (e *PGEngine) Query(ctx context.Context, namespace, query, mode, aux string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	if mode == "" {
		mode = ModeHybrid
	}

	excerpts, err := e.retrieve(ctx, namespace, query, mode)
	if err != nil {
		return "", err
	}
	if len(excerpts) == 0 {
		return "", nil
	}

	if e.genkit == nil || e.modelName == "" {
		return strings.Join(excerpts, "\n\n"), nil
	}

	answer, err := e.synthesize(ctx, query, aux, excerpts)
	if err != nil {
		e.logger.Warn("answer synthesis failed, returning raw excerpts",
			"namespace", namespace,
			"error", err)
		return strings.Join(excerpts, "\n\n"), nil
	}

	return answer, nil
}

func (e *PGEngine) retrieve(ctx context.Context, namespace, query, mode string) ([]string, error) {
	seen := make(map[int64]bool)
	var excerpts []string

	appendRows := func(rows pgx.Rows) error {
		defer rows.Close()
		for rows.Next() {
			var id int64
			var content string
			if err := rows.Scan(&id, &content); err != nil {
				return fmt.Errorf("scanning chunk: %w", err)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			excerpts = append(excerpts, content)
		}
		return rows.Err()
	}

	if mode == ModeVector || mode == ModeHybrid {
		vec, err := e.embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		rows, err := e.db.Query(ctx,
			`SELECT id, content
			 FROM bucket_chunks
			 WHERE namespace = $1 AND embedding IS NOT NULL
			 ORDER BY embedding <=> $2
			 LIMIT $3`,
			namespace, vec, e.topK)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		if err := appendRows(rows); err != nil {
			return nil, err
		}
	}

	if mode == ModeKeyword || mode == ModeHybrid {
		for _, term := range keywordTerms(query) {
			rows, err := e.db.Query(ctx,
				`SELECT id, content
				 FROM bucket_chunks
				 WHERE namespace = $1 AND content ILIKE $2
				 ORDER BY seq
				 LIMIT $3`,
				namespace, "%"+term+"%", e.topK)
			if err != nil {
				return nil, fmt.Errorf("keyword search: %w", err)
			}
			if err := appendRows(rows); err != nil {
				return nil, err
			}
		}
	}

	return excerpts, nil
}

// keywordTerms picks the query words worth an ILIKE pass. Short words
// produce too many matches to be useful.
func keywordTerms(query string) []string {
	var terms []string
	for _, word := range strings.Fields(query) {
		word = strings.Trim(word, `.,;:!?"'()`)
		if len(word) >= 4 {
			terms = append(terms, word)
		}
		if len(terms) == 5 {
			break
		}
	}
	return terms
}

func (e *PGEngine) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned no embeddings")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

func (e *PGEngine) synthesize(ctx context.Context, query, aux string, excerpts []string) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Answer the question using only the reference excerpts below. ")
	prompt.WriteString("If the excerpts do not contain the answer, say so briefly.\n")
	if aux != "" {
		prompt.WriteString("\nAdditional instructions: ")
		prompt.WriteString(aux)
		prompt.WriteString("\n")
	}
	prompt.WriteString("\nQuestion: ")
	prompt.WriteString(query)
	prompt.WriteString("\n\nExcerpts:\n")
	for i, excerpt := range excerpts {
		fmt.Fprintf(&prompt, "\n[%d] %s\n", i+1, excerpt)
	}

	response, err := genkit.Generate(ctx, e.genkit,
		ai.WithModelName(e.modelName),
		ai.WithPrompt(prompt.String()),
	)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", errors.New("model returned empty answer")
	}

	return text, nil
}
