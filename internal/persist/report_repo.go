package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/reclaimer/internal/reclaim"
)

// RunReport is a statistics checkpoint of one server run. The last one
// written for a RunID is the run's final dump.
type RunReport struct {
	RunID     uuid.UUID
	ServerID  int
	StartedAt time.Time
	EndedAt   time.Time
	Snapshot  *reclaim.Snapshot
}

// TypeStatsRow is one kind's row in reclaim_type_stats.
type TypeStatsRow struct {
	Kind            string
	Requests        int64
	HookTimeUs      int64
	SleptInHook     int64
	FilterFailures  int64
	CheckFailures   int64
	HardDeletes     int64
	HardDeleteUs    int64
	HardDeleteMaxUs int64
	Overruns        int
	IgnoredForce    int64
	NoHint          int64
	SuspendedForLag bool
}

func typeStatsRow(ts *reclaim.TypeStats) TypeStatsRow {
	return TypeStatsRow{
		Kind:            ts.Kind,
		Requests:        ts.Requests,
		HookTimeUs:      ts.HookTime.Microseconds(),
		SleptInHook:     ts.SleptInHook,
		FilterFailures:  ts.Failures[reclaim.StageFilter],
		CheckFailures:   ts.Failures[reclaim.StageCheck],
		HardDeletes:     ts.HardDeletes,
		HardDeleteUs:    ts.HardDeleteTime.Microseconds(),
		HardDeleteMaxUs: ts.HardDeleteMax.Microseconds(),
		Overruns:        ts.Overruns,
		IgnoredForce:    ts.IgnoredForce,
		NoHint:          ts.NoHint,
		SuspendedForLag: ts.SuspendedForLag,
	}
}

type ReportRepo struct {
	db *DB
}

func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// Save atomically writes a run and all of its per-kind rows. Saving the
// same RunID again overwrites the earlier checkpoint.
func (r *ReportRepo) Save(ctx context.Context, rep RunReport) error {
	snap := rep.Snapshot
	if snap == nil {
		return fmt.Errorf("report %s: no snapshot", rep.RunID)
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO reclaim_runs (run_id, server_id, started_at, ended_at, last_tick,
			                           status_line, total_deleted, total_collected)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (run_id) DO UPDATE SET
			   ended_at = EXCLUDED.ended_at, last_tick = EXCLUDED.last_tick,
			   status_line = EXCLUDED.status_line, total_deleted = EXCLUDED.total_deleted,
			   total_collected = EXCLUDED.total_collected`,
			rep.RunID, rep.ServerID, rep.StartedAt, rep.EndedAt, int64(snap.Tick),
			snap.Status.String(), snap.Status.TotalDeleted, snap.Status.TotalCollected,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range snap.Kinds {
			row := typeStatsRow(&snap.Kinds[i])
			batch.Queue(
				`INSERT INTO reclaim_type_stats (run_id, kind, requests, hook_time_us, slept_in_hook,
				        filter_failures, check_failures, hard_deletes, hard_delete_us, hard_delete_max_us,
				        overruns, ignored_force, no_hint, suspended_for_lag)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				 ON CONFLICT (run_id, kind) DO UPDATE SET
				   requests = EXCLUDED.requests, hook_time_us = EXCLUDED.hook_time_us,
				   slept_in_hook = EXCLUDED.slept_in_hook, filter_failures = EXCLUDED.filter_failures,
				   check_failures = EXCLUDED.check_failures, hard_deletes = EXCLUDED.hard_deletes,
				   hard_delete_us = EXCLUDED.hard_delete_us, hard_delete_max_us = EXCLUDED.hard_delete_max_us,
				   overruns = EXCLUDED.overruns, ignored_force = EXCLUDED.ignored_force,
				   no_hint = EXCLUDED.no_hint, suspended_for_lag = EXCLUDED.suspended_for_lag`,
				rep.RunID, row.Kind, row.Requests, row.HookTimeUs, row.SleptInHook,
				row.FilterFailures, row.CheckFailures, row.HardDeletes, row.HardDeleteUs, row.HardDeleteMaxUs,
				row.Overruns, row.IgnoredForce, row.NoHint, row.SuspendedForLag,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert type stats: %w", err)
		}
		return nil
	})
}

// SuspendedLastRun returns the kinds that ended the most recent run
// suspended for lag, so operators can be told at boot.
func (r *ReportRepo) SuspendedLastRun(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT s.kind
		 FROM reclaim_type_stats s
		 JOIN (SELECT run_id FROM reclaim_runs ORDER BY ended_at DESC LIMIT 1) last
		   ON last.run_id = s.run_id
		 WHERE s.suspended_for_lag
		 ORDER BY s.kind`)
	if err != nil {
		return nil, fmt.Errorf("query suspended kinds: %w", err)
	}
	kinds, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan suspended kinds: %w", err)
	}
	return kinds, nil
}
