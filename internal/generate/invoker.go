// Package generate runs prompts against the configured AI backends and turns
// the results into ledger versions. The invoker handles the model call itself
// (rate limit, timeout, one fallback); the pipeline orchestrates assembly,
// prompt building, invocation, and persistence.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/quillworks/quill/internal/log"
)

var (
	// ErrBackendUnconfigured indicates no model backend is wired at all.
	ErrBackendUnconfigured = errors.New("generation backend not configured")

	// ErrBackendFailed indicates both the primary and the fallback model
	// call failed.
	ErrBackendFailed = errors.New("generation backend failed")

	// ErrEmptyResult indicates the backend answered with no text.
	ErrEmptyResult = errors.New("backend returned empty result")
)

// Invocation statuses recorded in version telemetry.
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

// Invocation is the outcome of one Invoke call. Text is always populated:
// on failure it carries a short error description so the attempt can still
// be persisted as a version.
type Invocation struct {
	Text    string
	Backend string
	Status  string
	Err     error
}

// Invoker calls the primary model, falling back once to the fallback model.
// No retries beyond that; callers see errors classified through the package
// sentinels. All invocations share one process-wide rate limiter.
type Invoker struct {
	genkit   *genkit.Genkit
	primary  string
	fallback string
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   log.Logger
}

// NewInvoker wires the invoker. primary and fallback are full genkit model
// names ("googleai/gemini-2.5-flash"); fallback may be empty. genkitApp may
// be nil, which makes every invocation report ErrBackendUnconfigured.
func NewInvoker(genkitApp *genkit.Genkit, primary, fallback string, limiter *rate.Limiter, timeout time.Duration, logger log.Logger) *Invoker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Invoker{
		genkit:   genkitApp,
		primary:  primary,
		fallback: fallback,
		limiter:  limiter,
		timeout:  timeout,
		logger:   logger,
	}
}

// Invoke runs the prompt and always returns a recordable invocation.
// The timeout bounds the whole call including the fallback attempt.
func (i *Invoker) Invoke(ctx context.Context, promptText string) *Invocation {
	if i.genkit == nil || i.primary == "" {
		return failed("", ErrBackendUnconfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	if err := i.limiter.Wait(ctx); err != nil {
		return failed("", fmt.Errorf("%w: rate limit wait: %v", ErrBackendFailed, err))
	}

	text, err := i.attempt(ctx, i.primary, promptText)
	if err == nil {
		return succeeded(text, i.primary)
	}
	if errors.Is(err, ErrEmptyResult) {
		return emptied(i.primary, err)
	}

	if i.fallback == "" || ctx.Err() != nil {
		return failed(i.primary, fmt.Errorf("%w: %s: %v", ErrBackendFailed, i.primary, err))
	}

	i.logger.Warn("primary model failed, trying fallback",
		"primary", i.primary, "fallback", i.fallback, "error", err)

	text, fbErr := i.attempt(ctx, i.fallback, promptText)
	if fbErr == nil {
		return succeeded(text, i.fallback)
	}
	if errors.Is(fbErr, ErrEmptyResult) {
		return emptied(i.fallback, fbErr)
	}

	return failed(i.fallback,
		fmt.Errorf("%w: primary %s: %v; fallback %s: %v", ErrBackendFailed, i.primary, err, i.fallback, fbErr))
}

func (i *Invoker) attempt(ctx context.Context, model, promptText string) (string, error) {
	response, err := genkit.Generate(ctx, i.genkit,
		ai.WithModelName(model),
		ai.WithPrompt(promptText),
	)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(response.Text())
	if text == "" {
		return "", ErrEmptyResult
	}

	return text, nil
}

func succeeded(text, backend string) *Invocation {
	return &Invocation{Text: text, Backend: backend, Status: StatusSuccess}
}

// emptied flags an empty answer but still returns it as a recordable result.
func emptied(backend string, err error) *Invocation {
	return &Invocation{
		Text:    "Generation produced no content.",
		Backend: backend,
		Status:  StatusEmpty,
		Err:     err,
	}
}

func failed(backend string, err error) *Invocation {
	return &Invocation{
		Text:    "Generation failed: " + err.Error(),
		Backend: backend,
		Status:  StatusError,
		Err:     err,
	}
}
