package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// SetupMockGenkit initializes a plugin-free Genkit instance with a mock
// model registered as "mock/primary" and a mock embedder. Use the returned
// mocks to script responses and inject failures; SetupMockFallback adds a
// separately scripted fallback model.
func SetupMockGenkit(t *testing.T) (*genkit.Genkit, *MockModel, *MockEmbedder) {
	t.Helper()

	g := genkit.Init(context.Background())

	model := NewMockModel("mock response")
	model.Register(g, "mock/primary")

	embedder := NewMockEmbedder(768)
	embedder.Register(g)

	return g, model, embedder
}

// SetupMockFallback registers a second, independently scripted model as
// "mock/fallback" so primary and fallback behavior diverge in tests.
func SetupMockFallback(g *genkit.Genkit) *MockModel {
	fallback := NewMockModel("fallback response")
	fallback.Register(g, "mock/fallback")
	return fallback
}
