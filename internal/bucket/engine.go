package bucket

import (
	"context"
	"errors"
)

// Engine is the narrow contract to the external retrieval collaborator.
// Implementations own chunking, embedding, and indexing; the gateway only
// forwards content and queries. Namespaces are opaque strings the gateway
// derives from project and bucket names, so one engine instance can serve
// every bucket in the process.
//
// Engines must be safe for concurrent use.
type Engine interface {
	// EnsureIndex prepares the namespace for ingest and query.
	// Must be idempotent; the gateway memoizes successful calls.
	EnsureIndex(ctx context.Context, namespace string) error

	// Ingest indexes one document's content under the namespace.
	Ingest(ctx context.Context, namespace, docID, content string) error

	// Remove drops one document from the namespace index.
	Remove(ctx context.Context, namespace, docID string) error

	// Query retrieves and synthesizes an answer for the query text.
	// mode selects the retrieval strategy (open string, default "hybrid");
	// aux carries auxiliary instructions forwarded to answer synthesis.
	Query(ctx context.Context, namespace, query, mode, aux string) (string, error)

	// DropIndex removes the namespace and everything indexed under it.
	DropIndex(ctx context.Context, namespace string) error
}

var errEngineUnconfigured = errors.New("retrieval engine not configured")

// UnavailableEngine stands in when no retrieval backend is configured.
// Every indexing and query call fails, which the gateway surfaces as
// ErrBucketUnavailable; bucket creation and deletion keep working because
// the gateway treats index maintenance there as best effort.
type UnavailableEngine struct{}

func (UnavailableEngine) EnsureIndex(context.Context, string) error {
	return errEngineUnconfigured
}

func (UnavailableEngine) Ingest(context.Context, string, string, string) error {
	return errEngineUnconfigured
}

func (UnavailableEngine) Remove(context.Context, string, string) error {
	return errEngineUnconfigured
}

func (UnavailableEngine) Query(context.Context, string, string, string, string) (string, error) {
	return "", errEngineUnconfigured
}

func (UnavailableEngine) DropIndex(context.Context, string) error {
	return errEngineUnconfigured
}
