// Package archiver provides a background process that copies operational data
// out of the hot store into Postgres for durable long-term analysis.
package archiver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/internal/tracker"
	"github.com/gridshift-io/gridshift/pkg/types"
)

const (
	defaultInterval = 5 * time.Minute
	eventBatchSize  = 500
)

// Destination defines the write interface for the archival backend. Cursors
// record how far each data stream has been archived so cycles never re-read
// the whole hot store.
type Destination interface {
	InsertPriceSnapshots(ctx context.Context, snaps []types.PriceSnapshot) error
	UpsertCommand(ctx context.Context, cmd types.Command) error
	InsertEvents(ctx context.Context, events []types.Event) error
	GetCursor(ctx context.Context, dataType, key string) (time.Time, error)
	SetCursor(ctx context.Context, dataType, key string, cursor time.Time) error
}

// Archiver periodically archives hot-store data to the archival backend.
// Price rows are copied before retention purges them; terminal commands and
// audit events are copied for durable history.
type Archiver struct {
	source   store.Store
	dest     Destination
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new Archiver.
func New(source store.Store, dest Destination, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		source:   source,
		dest:     dest,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the archiver background loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("archiver started", "interval", a.interval)
}

// Stop signals the archiver to stop and waits for it to finish.
func (a *Archiver) Stop(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("archiver stopped")
}

func (a *Archiver) loop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Run once immediately on start
	a.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Archiver) tick(ctx context.Context) {
	pools, err := a.source.ListPoolIDs(ctx)
	if err != nil {
		a.logger.Error("archiver: failed to list pools", "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}
	for _, poolID := range pools {
		if ctx.Err() != nil {
			return
		}
		a.archivePrices(ctx, poolID)
	}

	a.archiveCommands(ctx)
	a.archiveEvents(ctx)
}

func (a *Archiver) archivePrices(ctx context.Context, poolID string) {
	cursor, err := a.dest.GetCursor(ctx, "prices", poolID)
	if err != nil {
		a.logger.Error("archiver: get price cursor failed", "poolId", poolID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}

	snaps, err := a.source.ListPriceSnapshots(ctx, poolID, cursor)
	if err != nil {
		a.logger.Error("archiver: list prices failed", "poolId", poolID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}
	// The cursor row itself comes back on an inclusive range scan.
	fresh := snaps[:0:0]
	for _, s := range snaps {
		if s.CapturedAt.After(cursor) {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return
	}

	if err := a.dest.InsertPriceSnapshots(ctx, fresh); err != nil {
		a.logger.Error("archiver: insert prices failed", "poolId", poolID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return // Don't advance cursor on failure
	}

	last := fresh[len(fresh)-1].CapturedAt
	if err := a.dest.SetCursor(ctx, "prices", poolID, last); err != nil {
		a.logger.Error("archiver: set price cursor failed", "poolId", poolID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}
	metrics.RowsArchived.Add(int64(len(fresh)))
}

func (a *Archiver) archiveCommands(ctx context.Context) {
	cmds, err := a.source.ListCommands(ctx, types.CommandFilter{ExcludePending: true})
	if err != nil {
		a.logger.Error("archiver: list commands failed", "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}

	for _, cmd := range cmds {
		if !tracker.IsTerminal(cmd.Status) {
			continue
		}
		if err := a.dest.UpsertCommand(ctx, cmd); err != nil {
			a.logger.Error("archiver: upsert command failed", "commandId", cmd.ID, "error", err)
			metrics.ArchiveCyclesFailed.Add(1)
			continue
		}
		metrics.RowsArchived.Add(1)
	}
}

func (a *Archiver) archiveEvents(ctx context.Context) {
	agents, err := a.source.ListAgents(ctx, false)
	if err != nil {
		a.logger.Error("archiver: list agents failed", "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}

	for _, agent := range agents {
		if ctx.Err() != nil {
			return
		}
		a.archiveAgentEvents(ctx, agent.AgentID)
	}
}

func (a *Archiver) archiveAgentEvents(ctx context.Context, agentID string) {
	cursor, err := a.dest.GetCursor(ctx, "events", agentID)
	if err != nil {
		a.logger.Error("archiver: get event cursor failed", "agentId", agentID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}

	events, err := a.source.ListEvents(ctx, agentID, eventBatchSize)
	if err != nil {
		a.logger.Error("archiver: list events failed", "agentId", agentID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}

	fresh := events[:0:0]
	var last time.Time
	for _, ev := range events {
		if !ev.Timestamp.After(cursor) {
			continue
		}
		fresh = append(fresh, ev)
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	if len(fresh) == 0 {
		return
	}

	if err := a.dest.InsertEvents(ctx, fresh); err != nil {
		a.logger.Error("archiver: insert events failed", "agentId", agentID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}
	if err := a.dest.SetCursor(ctx, "events", agentID, last); err != nil {
		a.logger.Error("archiver: set event cursor failed", "agentId", agentID, "error", err)
		metrics.ArchiveCyclesFailed.Add(1)
		return
	}
	metrics.RowsArchived.Add(int64(len(fresh)))
}
