package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/library/info"
)

// stubConnector satisfies Connector; stubSource additionally satisfies
// EpisodeSource so capability grouping can be exercised.
type stubConnector struct {
	id     int64
	kind   library.ConnectionKind
	active bool
	err    error
}

func (s *stubConnector) ID() int64                    { return s.id }
func (s *stubConnector) Kind() library.ConnectionKind { return s.kind }
func (s *stubConnector) Active() bool                 { return s.active }
func (s *stubConnector) ActivationErr() error         { return s.err }

type stubSource struct {
	stubConnector
}

func (s *stubSource) SetSeriesIDs(ctx context.Context, libraryName string, si *info.SeriesInfo) error {
	return nil
}

func (s *stubSource) SetEpisodeIDs(ctx context.Context, libraryName string, si *info.SeriesInfo, episodes []*info.EpisodeInfo) error {
	return nil
}

func (s *stubSource) GetAllEpisodes(ctx context.Context, libraryName string, si *info.SeriesInfo) ([]EpisodeEntry, error) {
	return nil, nil
}

func (s *stubSource) QuerySeries(ctx context.Context, query string) ([]SearchResult, error) {
	return nil, nil
}

func stubFactory(active bool) Factory {
	return func(ctx context.Context, conn *library.Connection, logger zerolog.Logger) Connector {
		c := stubConnector{id: conn.ID, kind: conn.Kind, active: active}
		if !active {
			c.err = &ActivationError{Kind: string(conn.Kind), Err: errors.New("probe failed")}
		}
		if conn.Kind == library.KindSonarr {
			return &stubSource{stubConnector: c}
		}
		return &c
	}
}

func TestRefresh_BuildsAndReplaces(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.RegisterFactory(library.KindSonarr, stubFactory(true))
	reg.RegisterFactory(library.KindTMDb, stubFactory(true))
	ctx := context.Background()

	reg.Refresh(ctx, []*library.Connection{
		{ID: 1, Kind: library.KindSonarr, Enabled: true},
		{ID: 2, Kind: library.KindTMDb, Enabled: true},
		{ID: 3, Kind: library.KindTMDb, Enabled: false},
	})

	if _, ok := reg.Get(1); !ok {
		t.Error("Get(1) missing after refresh")
	}
	if _, ok := reg.Get(3); ok {
		t.Error("disabled connection was built")
	}

	// A second refresh with a smaller set drops the absent connector.
	reg.Refresh(ctx, []*library.Connection{
		{ID: 2, Kind: library.KindTMDb, Enabled: true},
	})
	if _, ok := reg.Get(1); ok {
		t.Error("Get(1) survived a refresh that removed it")
	}
	if _, ok := reg.Get(2); !ok {
		t.Error("Get(2) missing after refresh")
	}
}

func TestRefresh_UnknownKindSkipped(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Refresh(context.Background(), []*library.Connection{
		{ID: 1, Kind: library.KindPlex, Enabled: true},
	})
	if _, ok := reg.Get(1); ok {
		t.Error("connection without a factory was built")
	}
}

func TestRefresh_InactiveStaysRegistered(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.RegisterFactory(library.KindSonarr, stubFactory(false))

	reg.Refresh(context.Background(), []*library.Connection{
		{ID: 1, Kind: library.KindSonarr, Enabled: true},
	})

	c, ok := reg.Get(1)
	if !ok {
		t.Fatal("inactive connector dropped from registry")
	}
	if c.Active() {
		t.Error("connector reports active despite failed probe")
	}
	if c.ActivationErr() == nil {
		t.Error("inactive connector has no activation error")
	}
}

func TestRefreshOne(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.RegisterFactory(library.KindSonarr, stubFactory(true))
	ctx := context.Background()

	conn := &library.Connection{ID: 5, Kind: library.KindSonarr, Enabled: true}
	if err := reg.RefreshOne(ctx, conn); err != nil {
		t.Fatalf("RefreshOne() error = %v", err)
	}
	if _, ok := reg.Get(5); !ok {
		t.Error("Get(5) missing after RefreshOne")
	}

	conn.Enabled = false
	if err := reg.RefreshOne(ctx, conn); err != nil {
		t.Fatalf("RefreshOne() disable error = %v", err)
	}
	if _, ok := reg.Get(5); ok {
		t.Error("disabled connection still registered")
	}

	if err := reg.RefreshOne(ctx, &library.Connection{ID: 6, Kind: library.KindPlex}); err == nil {
		t.Error("RefreshOne() without a factory should error")
	}
}

func TestCapabilityGroups(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.RegisterFactory(library.KindSonarr, stubFactory(true)) // EpisodeSource
	reg.RegisterFactory(library.KindTMDb, stubFactory(true))   // base connector only

	reg.Refresh(context.Background(), []*library.Connection{
		{ID: 2, Kind: library.KindSonarr, Enabled: true},
		{ID: 1, Kind: library.KindSonarr, Enabled: true},
		{ID: 3, Kind: library.KindTMDb, Enabled: true},
	})

	sources := reg.EpisodeSources()
	if sources.Len() != 2 {
		t.Fatalf("EpisodeSources().Len() = %d, want 2", sources.Len())
	}
	ids := sources.IDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("IDs() = %v, want ascending [1 2]", ids)
	}
	if !sources.AllActive() {
		t.Error("AllActive() = false for an all-active group")
	}
	if _, ok := sources.Get(3); ok {
		t.Error("capability group includes a connector without the capability")
	}

	if reg.MediaServers().Len() != 0 {
		t.Error("MediaServers() should be empty")
	}
	if reg.MediaServers().AllActive() {
		t.Error("AllActive() = true for an empty group")
	}

	if _, ok := reg.EpisodeSource(1); !ok {
		t.Error("EpisodeSource(1) missing")
	}
	if _, ok := reg.MediaServer(1); ok {
		t.Error("MediaServer(1) should not resolve for an episode source")
	}
}
