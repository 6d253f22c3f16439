package h5p

import (
	"context"
	"fmt"
)

// resolveDependencies returns root and every library it preloads, each
// library placed after its own dependencies. Cycles are cut at the first
// revisit.
func resolveDependencies(ctx context.Context, store Store, root *Library) ([]*Library, error) {
	var ordered []*Library
	done := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(lib *Library) error
	visit = func(lib *Library) error {
		key := lib.Ref().String()
		if done[key] || visiting[key] {
			return nil
		}
		visiting[key] = true
		for _, ref := range lib.Dependencies {
			dep, err := store.GetLibraryByRef(ctx, ref)
			if err != nil {
				return fmt.Errorf("dependency %s of %s: %w", ref, key, err)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[key] = false
		done[key] = true
		ordered = append(ordered, lib)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return ordered, nil
}
