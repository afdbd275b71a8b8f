package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModel provides deterministic generation responses for testing. It
// matches the prompt text against registered substring patterns and returns
// the paired response; unmatched prompts get the fallback. An injected error
// makes every call fail, which is how backend-failure paths are exercised.
//
// Thread-safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	err      error
	calls    []MockCall
}

type mockRule struct {
	pattern  string
	response string
}

// MockCall records one invocation of the mock model.
type MockCall struct {
	Prompt   string
	Response string
}

// NewMockModel creates a mock model with the given fallback response.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Prompts containing the
// pattern (case-insensitive) get the response; first match wins.
func (m *MockModel) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// SetError makes every subsequent call fail with err. Pass nil to recover.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of all recorded calls.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register defines the mock as a Genkit model under the given name
// ("mock/primary", "mock/fallback", ...). One MockModel may be registered
// under several names; calls are recorded on the shared instance.
func (m *MockModel) Register(g *genkit.Genkit, name string) ai.Model {
	return genkit.DefineModel(g, name, &ai.ModelOptions{
		Label: "Mock Model " + name,
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var promptText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			promptText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}

	responseText := m.fallback
	lower := strings.ToLower(promptText)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			responseText = rule.response
			break
		}
	}
	m.calls = append(m.calls, MockCall{Prompt: promptText, Response: responseText})
	m.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		})
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}

// MockEmbedder provides deterministic embedding vectors for testing. By
// default the vector is derived from a SHA-256 of the content; explicit
// mappings allow precise similarity control between test inputs.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewMockEmbedder creates a mock embedder with the given vector dimensions.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a content string.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// Register defines the mock as a Genkit embedder named "mock/test-embedder".
func (e *MockEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{
			Embedding: e.vectorFor(documentText(doc)),
		}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	return deterministicVector(content, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector derives a normalized vector from a content hash, so
// identical content always embeds identically.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
