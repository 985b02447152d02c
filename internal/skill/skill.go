// Package skill defines the contract between the execution engine and the
// units of business logic it runs: a versioned definition with schema, cost
// model, timeout, PII policy, and required responsibility level, plus the
// registry the engine resolves skills from.
package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendolabs/tendo/internal/execution"
	"github.com/tendolabs/tendo/internal/llm"
	"github.com/tendolabs/tendo/internal/piiguard"
)

var (
	ErrNotFound = errors.New("skill not found")
	// ErrValidation wraps schema violations found in a skill's input.
	ErrValidation = errors.New("input validation failed")
)

// Context is the per-execution environment handed to a handler.
type Context struct {
	ExecutionID uuid.UUID
	TenantID    string
	TraceID     string
	Logger      *slog.Logger
	// LLM is nil for skills that do not declare LLM use.
	LLM llm.Provider
}

// Output is what a handler reports back on success.
type Output struct {
	Output        map[string]any
	ActualCostUSD float64
	TokensUsed    int
	Metadata      map[string]any
}

// Handler runs the skill's business logic. It must honor ctx cancellation.
type Handler func(ctx context.Context, input map[string]any, ec *Context) (*Output, error)

// Violation is one schema problem in a skill's input.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks raw input against the skill's declared schema.
type Validator interface {
	Validate(input map[string]any) []Violation
}

// Definition is one versioned skill.
type Definition struct {
	Key         string
	Version     string
	Name        string
	Description string

	Handler   Handler
	Validator Validator

	// EstimatedCostUSD is the amount reserved before the handler runs.
	EstimatedCostUSD float64
	Timeout          time.Duration

	// RequiredResponsibility is the most autonomous level this skill permits.
	// A caller requesting a stricter (lower) level than this runs through the
	// approval gate.
	RequiredResponsibility execution.ResponsibilityLevel
	// RequiresApproval mandates human sign-off regardless of level.
	RequiresApproval bool

	PIIPolicy piiguard.Policy
	UsesLLM   bool
}

// Ref returns the registry key "key@version".
func (d *Definition) Ref() string {
	return d.Key + "@" + d.Version
}

// Registry resolves skills by key and version. Built once during process
// initialization and passed by reference into the engine; no global state.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*Definition)}
}

// Register adds a definition. Registering the same key@version twice is an
// error; skills are immutable once published.
func (r *Registry) Register(d *Definition) error {
	if d.Key == "" || d.Version == "" {
		return fmt.Errorf("skill key and version are required")
	}
	if d.Handler == nil {
		return fmt.Errorf("skill %s has no handler", d.Ref())
	}
	if !d.RequiredResponsibility.Valid() {
		return fmt.Errorf("skill %s has invalid responsibility level %d", d.Ref(), d.RequiredResponsibility)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref := d.Ref()
	if _, ok := r.skills[ref]; ok {
		return fmt.Errorf("skill %s already registered", ref)
	}
	r.skills[ref] = d
	return nil
}

// Get resolves a skill by key and version. Returns ErrNotFound if absent.
func (r *Registry) Get(key, version string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.skills[key+"@"+version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, key, version)
	}
	return d, nil
}

// List returns all registered definitions.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, d)
	}
	return out
}
