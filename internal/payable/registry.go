package payable

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/paysettle/internal/payable/domain"
)

// Registry maps the closed set of payable tags to their resolvers.
type Registry struct {
	kinds map[string]domain.Kind
}

func NewRegistry(kinds ...domain.Kind) (*Registry, error) {
	registry := &Registry{kinds: map[string]domain.Kind{}}
	for _, kind := range kinds {
		if err := registry.register(kind); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (r *Registry) register(kind domain.Kind) error {
	if kind == nil {
		return nil
	}
	tag := normalize(kind.Type())
	if !isKnown(tag) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPayableType, kind.Type())
	}
	if _, exists := r.kinds[tag]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateKind, tag)
	}
	r.kinds[tag] = kind
	return nil
}

func (r *Registry) Has(tag string) bool {
	if r == nil {
		return false
	}
	_, ok := r.kinds[normalize(tag)]
	return ok
}

func (r *Registry) Resolve(ctx context.Context, tag string, id int64) (domain.Payable, error) {
	if r == nil {
		return nil, domain.ErrUnregisteredPayable
	}
	kind, ok := r.kinds[normalize(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnregisteredPayable, tag)
	}
	return kind.Resolve(ctx, id)
}

func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.kinds))
	for tag := range r.kinds {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func isKnown(tag string) bool {
	for _, known := range domain.KnownTypes() {
		if known == tag {
			return true
		}
	}
	return false
}
