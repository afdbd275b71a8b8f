package testutil

import (
	"context"
	"strings"
	"sync"
)

// MemoryEngine is an in-memory retrieval engine for tests that exercise
// bucket behavior without PostgreSQL. Query returns the stored documents
// that share a word with the query, or a scripted fixed answer.
type MemoryEngine struct {
	mu     sync.Mutex
	docs   map[string]map[string]string // namespace -> docID -> content
	answer string
	err    error
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{docs: make(map[string]map[string]string)}
}

// SetAnswer makes Query return a fixed answer instead of matching documents.
func (e *MemoryEngine) SetAnswer(answer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.answer = answer
}

// SetError makes every engine call fail with err. Pass nil to recover.
func (e *MemoryEngine) SetError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Documents returns the content stored under the namespace.
func (e *MemoryEngine) Documents(namespace string) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[string]string, len(e.docs[namespace]))
	for id, content := range e.docs[namespace] {
		cp[id] = content
	}
	return cp
}

func (e *MemoryEngine) EnsureIndex(context.Context, string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *MemoryEngine) Ingest(_ context.Context, namespace, docID, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if e.docs[namespace] == nil {
		e.docs[namespace] = make(map[string]string)
	}
	e.docs[namespace][docID] = content
	return nil
}

func (e *MemoryEngine) Remove(_ context.Context, namespace, docID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	delete(e.docs[namespace], docID)
	return nil
}

func (e *MemoryEngine) Query(_ context.Context, namespace, query, _, _ string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	if e.answer != "" {
		return e.answer, nil
	}

	var matches []string
	words := strings.Fields(strings.ToLower(query))
	for _, content := range e.docs[namespace] {
		lower := strings.ToLower(content)
		for _, w := range words {
			if strings.Contains(lower, w) {
				matches = append(matches, content)
				break
			}
		}
	}
	return strings.Join(matches, "\n\n"), nil
}

func (e *MemoryEngine) DropIndex(_ context.Context, namespace string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	delete(e.docs, namespace)
	return nil
}
