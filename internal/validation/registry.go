// Package validation runs registered checks over a document's tree and
// collects their diagnostics.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
)

// Category groups checks so callers can run cheap and expensive checks
// separately.
type Category string

const (
	Fast    Category = "fast"
	Slow    Category = "slow"
	BuiltIn Category = "built-in"
)

// AllCategories lists the known categories.
var AllCategories = []Category{Fast, Slow, BuiltIn}

// Info locates a diagnostic. Node is required; Property narrows the range to
// a reference or attribute held by the node.
type Info struct {
	Node     *ast.Node
	Property string
	Index    int
	Range    *ast.Range
	Code     string
}

// Acceptor receives the problems a check finds.
type Acceptor func(severity document.Severity, message string, info Info)

// Check inspects one node. A returned error or a panic discards whatever the
// invocation accepted.
type Check func(ctx context.Context, node *ast.Node, accept Acceptor) error

type entry struct {
	nodeType string
	category Category
	name     string
	check    Check
}

// Registry holds checks keyed by node type. A check registered for a type
// also runs on its subtypes.
type Registry struct {
	reflection *ast.Reflection
	logger     *slog.Logger

	mu      sync.RWMutex
	entries []entry
	byType  map[string][]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry(reflection *ast.Reflection, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		reflection: reflection,
		logger:     logger,
		byType:     make(map[string][]entry),
	}
}

// Register adds checks for nodeType under category. An empty category means
// Fast.
func (r *Registry) Register(nodeType string, category Category, checks ...Check) {
	r.RegisterNamed(nodeType, category, "", checks...)
}

// RegisterNamed is Register with a label used when logging failures.
func (r *Registry) RegisterNamed(nodeType string, category Category, name string, checks ...Check) {
	if category == "" {
		category = Fast
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range checks {
		label := name
		if label == "" {
			label = fmt.Sprintf("%s#%d", nodeType, len(r.entries))
		} else if len(checks) > 1 {
			label = fmt.Sprintf("%s#%d", name, i)
		}
		r.entries = append(r.entries, entry{nodeType: nodeType, category: category, name: label, check: c})
	}
	clear(r.byType)
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Categories returns the categories with registered checks: Fast and Slow
// first, then any others in registration order.
func (r *Registry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Category{Fast, Slow}
	for _, e := range r.entries {
		if e.category != BuiltIn && !containsCategory(out, e.category) {
			out = append(out, e.category)
		}
	}
	return out
}

// ChecksFor returns the checks applicable to nodeType in the given categories
// (all categories when nil), each wrapped so failures are logged and isolated.
func (r *Registry) ChecksFor(nodeType string, categories []Category) []Check {
	var out []Check
	for _, e := range r.entriesFor(nodeType) {
		if categories != nil && !containsCategory(categories, e.category) {
			continue
		}
		out = append(out, r.wrap(e))
	}
	return out
}

func (r *Registry) entriesFor(nodeType string) []entry {
	r.mu.RLock()
	cached, ok := r.byType[nodeType]
	r.mu.RUnlock()
	if ok {
		return cached
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []entry
	for _, e := range r.entries {
		if r.reflection.IsSubtype(nodeType, e.nodeType) {
			matched = append(matched, e)
		}
	}
	r.byType[nodeType] = matched
	return matched
}

// wrap buffers the diagnostics of one invocation and forwards them only when
// the check returns normally. Cancellation passes through unchanged.
func (r *Registry) wrap(e entry) Check {
	return func(ctx context.Context, node *ast.Node, accept Acceptor) (err error) {
		type accepted struct {
			severity document.Severity
			message  string
			info     Info
		}
		var buf []accepted
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
			if err != nil {
				if cancel.IsCancelled(err) {
					return
				}
				r.logger.Error("validation check failed",
					"check", e.name,
					"node_type", node.Type,
					"category", string(e.category),
					"uri", node.DocumentURI(),
					"error", err,
				)
				err = nil
				return
			}
			for _, a := range buf {
				accept(a.severity, a.message, a.info)
			}
		}()
		return e.check(ctx, node, func(severity document.Severity, message string, info Info) {
			buf = append(buf, accepted{severity, message, info})
		})
	}
}

func containsCategory(categories []Category, c Category) bool {
	for _, x := range categories {
		if x == c {
			return true
		}
	}
	return false
}
