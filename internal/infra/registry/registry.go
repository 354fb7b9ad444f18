// Package registry holds the immutable, process-lifetime view of every
// configured remote tool server.
package registry

import (
	"fmt"

	"toolgate/internal/domain"
)

// Registry is read-only after construction and safe for concurrent use
// without locking.
type Registry struct {
	ordered []domain.Connection
	byName  map[string]domain.Connection
}

func New(connections []domain.Connection) (*Registry, error) {
	byName := make(map[string]domain.Connection, len(connections))
	ordered := make([]domain.Connection, 0, len(connections))
	for i, conn := range connections {
		if conn.Name == "" {
			return nil, domain.E(domain.CodeInvalidConfig, "registry.new",
				fmt.Sprintf("connections[%d]: name is required", i), nil)
		}
		if _, exists := byName[conn.Name]; exists {
			return nil, domain.E(domain.CodeInvalidConfig, "registry.new",
				fmt.Sprintf("connections[%d]: duplicate name %q", i, conn.Name), nil)
		}
		byName[conn.Name] = conn
		ordered = append(ordered, conn)
	}
	return &Registry{ordered: ordered, byName: byName}, nil
}

func (r *Registry) Get(name string) (domain.Connection, error) {
	conn, ok := r.byName[name]
	if !ok {
		return domain.Connection{}, domain.E(domain.CodeNotFound, "registry.get",
			fmt.Sprintf("connection %q", name), domain.ErrConnectionNotFound)
	}
	return conn, nil
}

// List returns the connections in configuration order.
func (r *Registry) List() []domain.Connection {
	out := make([]domain.Connection, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Len() int {
	return len(r.ordered)
}
