// Package riverjobs provides River workers for phonekit maintenance.
package riverjobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"

	"github.com/open-rails/phonekit/core"
)

type PurgeSessionsArgs struct {
	RetentionDays int `json:"retention_days,omitempty"`
	BatchSize     int `json:"batch_size,omitempty"`
}

func (PurgeSessionsArgs) Kind() string { return "phonekit_purge_sessions" }

func (args PurgeSessionsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
		},
	}
}

// PurgeSessionsWorker deletes revoked and expired session rows older
// than RetentionDays. Only meaningful with a Postgres-backed service;
// KV sessions expire on their own.
type PurgeSessionsWorker struct {
	river.WorkerDefaults[PurgeSessionsArgs]
	svc *core.Service
}

func NewPurgeSessionsWorker(svc *core.Service) *PurgeSessionsWorker {
	return &PurgeSessionsWorker{svc: svc}
}

func (w *PurgeSessionsWorker) Timeout(*river.Job[PurgeSessionsArgs]) time.Duration {
	return 10 * time.Minute
}

func (w *PurgeSessionsWorker) Work(ctx context.Context, job *river.Job[PurgeSessionsArgs]) error {
	if w == nil || w.svc == nil {
		return errors.New("phonekit purge: service not configured")
	}
	retention := job.Args.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	batch := job.Args.BatchSize
	if batch <= 0 {
		batch = 500
	}

	cutoff := time.Now().AddDate(0, 0, -retention)
	for {
		n, err := w.svc.PurgeSessions(ctx, cutoff, batch)
		if err != nil {
			return err
		}
		if n < batch {
			return nil
		}
	}
}
