package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// Factory constructs a connector for one connection kind. The constructor
// performs the activation probe; a probe failure must yield a connector
// whose Active() is false and whose ActivationErr() carries the cause.
type Factory func(ctx context.Context, conn *library.Connection, logger zerolog.Logger) Connector

// InterfaceGroup is a snapshot of the active connectors implementing one
// capability, keyed by interface_id.
type InterfaceGroup[T Connector] struct {
	members map[int64]T
}

// Get returns the member with the given interface_id.
func (g *InterfaceGroup[T]) Get(id int64) (T, bool) {
	m, ok := g.members[id]
	return m, ok
}

// IDs returns the member interface_ids in ascending order.
func (g *InterfaceGroup[T]) IDs() []int64 {
	ids := make([]int64, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the member count.
func (g *InterfaceGroup[T]) Len() int {
	return len(g.members)
}

// AllActive reports whether every member passed its activation probe.
// An empty group is not considered active.
func (g *InterfaceGroup[T]) AllActive() bool {
	if len(g.members) == 0 {
		return false
	}
	for _, m := range g.members {
		if !m.Active() {
			return false
		}
	}
	return true
}

// Registry holds the live connector for every configured connection.
// Refresh publishes a new connector map atomically; in-flight requests on
// replaced connectors complete against the instance they hold.
type Registry struct {
	mu         sync.RWMutex
	factories  map[library.ConnectionKind]Factory
	connectors map[int64]Connector
	logger     zerolog.Logger
}

// NewRegistry creates an empty connector registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		factories:  make(map[library.ConnectionKind]Factory),
		connectors: make(map[int64]Connector),
		logger:     logger.With().Str("component", "connections").Logger(),
	}
}

// RegisterFactory installs the constructor for a connection kind.
func (r *Registry) RegisterFactory(kind library.ConnectionKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Refresh rebuilds connectors for the given connection set. Disabled
// connections are dropped; the rest are re-probed. The new map replaces
// the old one atomically.
func (r *Registry) Refresh(ctx context.Context, conns []*library.Connection) {
	r.mu.RLock()
	factories := r.factories
	r.mu.RUnlock()

	next := make(map[int64]Connector, len(conns))
	for _, conn := range conns {
		if !conn.Enabled {
			continue
		}
		factory, ok := factories[conn.Kind]
		if !ok {
			r.logger.Error().Str("kind", string(conn.Kind)).Int64("interfaceId", conn.ID).
				Msg("No factory registered for connection kind")
			continue
		}
		connector := factory(ctx, conn, r.logger)
		if !connector.Active() {
			r.logger.Warn().Err(connector.ActivationErr()).
				Str("kind", string(conn.Kind)).Int64("interfaceId", conn.ID).
				Msg("Connection failed activation probe")
		}
		next[conn.ID] = connector
	}

	r.mu.Lock()
	r.connectors = next
	r.mu.Unlock()

	r.logger.Info().Int("connections", len(next)).Msg("Connection registry refreshed")
}

// RefreshOne rebuilds a single connector in place.
func (r *Registry) RefreshOne(ctx context.Context, conn *library.Connection) error {
	r.mu.RLock()
	factory, ok := r.factories[conn.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no factory registered for kind %q", conn.Kind)
	}

	connector := factory(ctx, conn, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !conn.Enabled {
		delete(r.connectors, conn.ID)
		return nil
	}
	r.connectors[conn.ID] = connector
	return nil
}

// Get returns the connector for an interface_id.
func (r *Registry) Get(id int64) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

func group[T Connector](r *Registry) *InterfaceGroup[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make(map[int64]T)
	for id, c := range r.connectors {
		if t, ok := c.(T); ok {
			members[id] = t
		}
	}
	return &InterfaceGroup[T]{members: members}
}

// EpisodeSources returns the episode-source capability group.
func (r *Registry) EpisodeSources() *InterfaceGroup[EpisodeSource] {
	return group[EpisodeSource](r)
}

// MediaServers returns the media-server capability group.
func (r *Registry) MediaServers() *InterfaceGroup[MediaServer] {
	return group[MediaServer](r)
}

// SyncSources returns the sync-source capability group.
func (r *Registry) SyncSources() *InterfaceGroup[SyncSource] {
	return group[SyncSource](r)
}

// ImageSources returns the image-source capability group.
func (r *Registry) ImageSources() *InterfaceGroup[ImageSource] {
	return group[ImageSource](r)
}

// MediaServer returns the media-server connector for an interface_id.
func (r *Registry) MediaServer(id int64) (MediaServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.connectors[id].(MediaServer)
	return ms, ok
}

// EpisodeSource returns the episode-source connector for an interface_id.
func (r *Registry) EpisodeSource(id int64) (EpisodeSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	es, ok := r.connectors[id].(EpisodeSource)
	return es, ok
}
