// Package tasks implements the recurring pipeline jobs: series sync,
// episode refresh, ID backfill, translation, source fetching, card
// building, card loading, watched-state sync, snapshots and backups.
// Each job walks the monitored series set with cancellation checkpoints
// between series.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/assets"
	"github.com/titlecardmaker/titlecardmaker/internal/backup"
	"github.com/titlecardmaker/titlecardmaker/internal/cards"
	"github.com/titlecardmaker/titlecardmaker/internal/config"
	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/metrics"
	"github.com/titlecardmaker/titlecardmaker/internal/resolver"
	"github.com/titlecardmaker/titlecardmaker/internal/uploader"
)

// Tasks bundles the pipeline components the job handlers operate on.
type Tasks struct {
	library    *library.Service
	registry   *connection.Registry
	resolver   *resolver.Resolver
	translator *resolver.Translator
	store      *assets.Store
	fetcher    *assets.Fetcher
	cards      *cards.Coordinator
	uploader   *uploader.Uploader
	backup     *backup.Manager
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     zerolog.Logger
}

// New wires the job handlers to their collaborators.
func New(
	svc *library.Service,
	registry *connection.Registry,
	res *resolver.Resolver,
	translator *resolver.Translator,
	store *assets.Store,
	fetcher *assets.Fetcher,
	coordinator *cards.Coordinator,
	up *uploader.Uploader,
	bk *backup.Manager,
	m *metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *Tasks {
	return &Tasks{
		library:    svc,
		registry:   registry,
		resolver:   res,
		translator: translator,
		store:      store,
		fetcher:    fetcher,
		cards:      coordinator,
		uploader:   up,
		backup:     bk,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With().Str("component", "tasks").Logger(),
	}
}

// stats accumulates per-item outcomes of one job run. Transient failures
// are absorbed and reported as retries; hard failures fail the run after
// the walk completes so one bad series does not starve the rest.
type stats struct {
	retries int
	failed  int
	total   int
}

func (st *stats) observe(err error) {
	st.total++
	if err == nil {
		return
	}
	if connection.Retryable(err) {
		st.retries++
		return
	}
	st.failed++
}

func (st *stats) result(what string) (int, error) {
	if st.failed > 0 {
		return st.retries, fmt.Errorf("%d of %d %s failed", st.failed, st.total, what)
	}
	return st.retries, nil
}

// monitoredSeries returns the series the pipeline jobs operate on.
func (t *Tasks) monitoredSeries(ctx context.Context) ([]*library.Series, error) {
	all, err := t.library.ListSeries(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.Monitored {
			out = append(out, s)
		}
	}
	return out, nil
}

// libraryFor returns the name of the series' first library binding on the
// given connection, or "" when the series has none there.
func libraryFor(series *library.Series, interfaceID int64) string {
	for _, lib := range series.Libraries {
		if lib.InterfaceID == interfaceID {
			return lib.Name
		}
	}
	return ""
}

// liveEpisodes filters out soft-deleted episodes.
func liveEpisodes(episodes []*library.Episode) []*library.Episode {
	out := episodes[:0]
	for _, ep := range episodes {
		if ep.DeletedAt == nil {
			out = append(out, ep)
		}
	}
	return out
}

// notFound reports whether err is a missing-remote-entity miss, which jobs
// treat as an expected skip rather than a failure.
func notFound(err error) bool {
	return errors.Is(err, connection.ErrNotFound)
}
