package manager

import (
	"errors"
	"fmt"
)

// ErrDependencyCycle is returned when the registered configs contain a
// dependency cycle. Cycles are rejected outright instead of silently
// producing an order that violates the dependency-before-dependent
// guarantee.
var ErrDependencyCycle = errors.New("dependency cycle detected")

// computeStartOrder returns a dependency-respecting start order via a
// memoized depth-first traversal over the registration order: every
// process appears exactly once, after all of its registered dependencies.
// Dependencies on unregistered ids are skipped here; the per-process start
// fails fast on them instead.
func (m *Manager) computeStartOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order := make([]string, 0, len(m.regOrder))
	visited := make(map[string]bool, len(m.regOrder))
	inStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if inStack[id] {
			return fmt.Errorf("%w: %s depends on itself transitively", ErrDependencyCycle, id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		inStack[id] = true
		cfg := m.configs[id]
		for _, dep := range cfg.DependsOn {
			if _, ok := m.configs[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		inStack[id] = false
		order = append(order, id)
		return nil
	}

	for _, id := range m.regOrder {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
