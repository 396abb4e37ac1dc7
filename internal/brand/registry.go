package brand

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"vozlab.mx/conversa/internal/model"
)

var ErrUnknownBrand = errors.New("unknown brand")

// Registry resolves brand keys to their profiles. Keys are matched
// case-insensitively. The registry is loaded from the brand store at boot
// and can be swapped wholesale with Replace, so reads never need the
// database on the hot path.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]model.Brand
}

func NewRegistry(brands []model.Brand) *Registry {
	r := &Registry{}
	r.Replace(brands)
	return r
}

// Get returns the brand for key or ErrUnknownBrand.
func (r *Registry) Get(key string) (model.Brand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byKey[strings.ToLower(key)]
	if !ok {
		return model.Brand{}, ErrUnknownBrand
	}
	return b, nil
}

// All returns every registered brand sorted by key.
func (r *Registry) All() []model.Brand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Brand, 0, len(r.byKey))
	for _, b := range r.byKey {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Replace swaps the whole registry contents. Later duplicates of a key win.
func (r *Registry) Replace(brands []model.Brand) {
	byKey := make(map[string]model.Brand, len(brands))
	for _, b := range brands {
		byKey[strings.ToLower(b.Key)] = b
	}

	r.mu.Lock()
	r.byKey = byKey
	r.mu.Unlock()
}
