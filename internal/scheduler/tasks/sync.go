package tasks

import (
	"context"

	"github.com/titlecardmaker/titlecardmaker/internal/connection"
	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// Sync pulls the series list from every configured sync and upserts the
// results. Reruns are idempotent; new series arrive monitored with the
// sync's template list attached.
func (t *Tasks) Sync(ctx context.Context) (int, error) {
	syncs, err := t.library.ListSyncs(ctx)
	if err != nil {
		return 0, err
	}

	var st stats
	for _, sync := range syncs {
		if err := ctx.Err(); err != nil {
			return st.retries, err
		}
		st.observe(t.runSync(ctx, sync))
	}
	return st.result("syncs")
}

func (t *Tasks) runSync(ctx context.Context, sync *library.Sync) error {
	conn, ok := t.registry.Get(sync.InterfaceID)
	if !ok {
		t.logger.Warn().Int64("interfaceId", sync.InterfaceID).Str("sync", sync.Name).
			Msg("Sync references an unconfigured connection, skipping")
		return nil
	}
	src, ok := conn.(connection.SyncSource)
	if !ok || !conn.Active() {
		t.logger.Warn().Int64("interfaceId", sync.InterfaceID).Str("sync", sync.Name).
			Msg("Sync connection is inactive or not sync-capable, skipping")
		return nil
	}

	found, err := src.AllSeries(ctx, sync)
	if err != nil {
		return err
	}

	added := 0
	for _, ss := range found {
		if err := ctx.Err(); err != nil {
			return err
		}
		incoming := &library.Series{
			Info:        ss.Info,
			Monitored:   true,
			TemplateIDs: sync.TemplateIDs,
			Libraries:   ss.Libraries,
		}
		series, created, err := t.library.UpsertSeries(ctx, incoming)
		if err != nil {
			return err
		}
		t.metrics.SeriesSynced.Inc()
		if created {
			added++
			t.logger.Info().Str("series", series.Info.FullName()).Str("sync", sync.Name).
				Msg("Sync added series")
		}
	}

	if err := t.library.TouchSync(ctx, sync.ID); err != nil {
		t.logger.Warn().Err(err).Str("sync", sync.Name).Msg("Failed to record sync run")
	}
	t.logger.Info().Str("sync", sync.Name).Int("series", len(found)).Int("added", added).
		Msg("Sync finished")
	return nil
}
