package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/reclaimer/internal/core/system"
	"github.com/l1jgo/reclaimer/internal/persist"
	"github.com/l1jgo/reclaimer/internal/reclaim"
	"go.uber.org/zap"
)

// ReportSaver stores statistics checkpoints. Implemented by
// persist.ReportRepo.
type ReportSaver interface {
	Save(ctx context.Context, rep persist.RunReport) error
}

// PersistenceSystem periodically checkpoints the engine statistics of this
// run. Phase 5 (Persist).
type PersistenceSystem struct {
	repo      ReportSaver
	snapshot  func() *reclaim.Snapshot
	base      persist.RunReport // RunID, ServerID, StartedAt
	now       func() time.Time
	log       *zap.Logger
	tickCount int
	interval  int // checkpoint every N ticks, 0 = never
}

func NewPersistenceSystem(repo ReportSaver, snapshot func() *reclaim.Snapshot, base persist.RunReport, now func() time.Time, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	return &PersistenceSystem{
		repo:     repo,
		snapshot: snapshot,
		base:     base,
		now:      now,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if err := s.save(3 * time.Second); err != nil {
		s.log.Error("統計存檔失敗", zap.Error(err))
	}
}

// SaveFinal writes the last checkpoint of the run. Called for graceful
// shutdown.
func (s *PersistenceSystem) SaveFinal() error {
	return s.save(10 * time.Second)
}

func (s *PersistenceSystem) save(timeout time.Duration) error {
	rep := s.base
	rep.EndedAt = s.now()
	rep.Snapshot = s.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.repo.Save(ctx, rep); err != nil {
		return err
	}
	s.log.Debug("統計已存檔", zap.Stringer("run", rep.RunID))
	return nil
}
