package tasks

import (
	"context"
	"errors"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
	"github.com/titlecardmaker/titlecardmaker/internal/scheduler"
)

// Job names, also the persistent registry row IDs.
const (
	JobSync            = "sync"
	JobRefreshEpisodes = "refresh_episodes"
	JobSetIDs          = "set_ids"
	JobTranslate       = "translate"
	JobFetchSources    = "fetch_sources"
	JobBuildCards      = "build_cards"
	JobLoadCards       = "load_cards"
	JobWatchedSync     = "watched_sync"
	JobSnapshot        = "snapshot"
	JobBackup          = "backup"
)

// RegisterAll installs every pipeline job on the scheduler with the cron
// expressions from configuration. Jobs with an empty expression stay
// registered for manual triggering only.
func (t *Tasks) RegisterAll(s *scheduler.Scheduler) error {
	jobs := []*scheduler.Job{
		{Name: JobSync, Cron: t.cfg.Jobs.Sync, Handler: t.instrument(JobSync, t.Sync)},
		{Name: JobRefreshEpisodes, Cron: t.cfg.Jobs.RefreshEpisodes, Handler: t.instrument(JobRefreshEpisodes, t.RefreshEpisodes)},
		{Name: JobSetIDs, Cron: t.cfg.Jobs.SetIDs, Handler: t.instrument(JobSetIDs, t.SetIDs)},
		{Name: JobTranslate, Cron: t.cfg.Jobs.Translate, Handler: t.instrument(JobTranslate, t.Translate)},
		{Name: JobFetchSources, Cron: t.cfg.Jobs.FetchSources, Handler: t.instrument(JobFetchSources, t.FetchSources)},
		{Name: JobBuildCards, Cron: t.cfg.Jobs.BuildCards, Handler: t.instrument(JobBuildCards, t.BuildCards)},
		{Name: JobLoadCards, Cron: t.cfg.Jobs.LoadCards, Handler: t.instrument(JobLoadCards, t.LoadCards)},
		{Name: JobWatchedSync, Cron: t.cfg.Jobs.WatchedSync, Handler: t.instrument(JobWatchedSync, t.WatchedSync)},
		{Name: JobSnapshot, Cron: t.cfg.Jobs.Snapshot, Handler: t.instrument(JobSnapshot, t.Snapshot)},
		{Name: JobBackup, Cron: t.cfg.Jobs.Backup, Handler: t.instrument(JobBackup, t.Backup)},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

// instrument counts each firing's outcome on the job metrics.
func (t *Tasks) instrument(name string, h scheduler.HandlerFunc) scheduler.HandlerFunc {
	return func(ctx context.Context) (int, error) {
		retries, err := h(ctx)
		outcome := library.OutcomeOK
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			outcome = library.OutcomeCancelled
		default:
			outcome = library.OutcomeError
		}
		t.metrics.JobRuns.WithLabelValues(name, outcome).Inc()
		return retries, err
	}
}
