// Package valve is the sole ingestion gate for price time-series data. It
// validates, deduplicates, gap-fills, and caches snapshots before they reach
// durable storage.
package valve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gridshift-io/gridshift/internal/metrics"
	"github.com/gridshift-io/gridshift/internal/store"
	"github.com/gridshift-io/gridshift/pkg/types"
)

// ErrValidation marks synchronous rejections with no side effect.
var ErrValidation = errors.New("validation error")

const (
	dedupWindow        = 5 * time.Second
	priceDiffThreshold = 0.005 // 0.5%
	minGap             = 90 * time.Second
	maxGap             = 600 * time.Second
	cadence            = 60 * time.Second
	maxInterpolated    = 10
	dedupDepth         = 10

	defaultRetention     = 7 * 24 * time.Hour
	defaultCacheTTL      = 60 * time.Second
	defaultCacheCapacity = 256
	defaultMaxPrice      = 100.0
)

// permanentTables maps each permanent table to its required fields.
var permanentTables = map[string][]string{
	"pool_switches":         {"agent_id", "from_pool", "to_pool", "reason"},
	"interruption_outcomes": {"agent_id", "instance_id", "signal_type", "outcome"},
	"decision_audit":        {"agent_id", "decision", "engine_type"},
}

// Options configures a Valve.
type Options struct {
	Store         store.Store
	Logger        *slog.Logger
	MinPrice      float64
	MaxPrice      float64
	Retention     time.Duration
	CacheTTL      time.Duration
	CacheCapacity int
	Now           func() time.Time // injectable for testing
}

// Result reports what a price write did. Duplicate handling is a normal
// operating condition, communicated here rather than through errors.
type Result struct {
	Stored       bool
	Averaged     bool
	AveragedWith string // source of the buffered point merged into the mean
	Interpolated int    // synthetic points written before the actual point
	Purged       int    // rows dropped by the retention pass
}

type dedupEntry struct {
	price      float64
	capturedAt time.Time
	sourceID   string
}

// Valve owns the per-pool dedup buffers and the read-through cache. All
// writes for one pool serialize on that pool's mutex; pools proceed
// independently.
type Valve struct {
	store     store.Store
	logger    *slog.Logger
	minPrice  float64
	maxPrice  float64
	retention time.Duration
	now       func() time.Time
	cache     *readCache

	mu        sync.Mutex // guards poolLocks and dedup map structure
	poolLocks map[string]*sync.Mutex
	dedup     map[string][]dedupEntry
}

// New creates a Valve.
func New(opts Options) *Valve {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxPrice <= 0 {
		opts.MaxPrice = defaultMaxPrice
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = defaultCacheCapacity
	}
	return &Valve{
		store:     opts.Store,
		logger:    opts.Logger,
		minPrice:  opts.MinPrice,
		maxPrice:  opts.MaxPrice,
		retention: opts.Retention,
		now:       opts.Now,
		cache:     newReadCache(opts.CacheTTL, opts.CacheCapacity, opts.Now),
		poolLocks: make(map[string]*sync.Mutex),
		dedup:     make(map[string][]dedupEntry),
	}
}

// poolLock returns the mutex for a pool, creating it on first use.
func (v *Valve) poolLock(poolID string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.poolLocks[poolID]
	if !ok {
		lock = &sync.Mutex{}
		v.poolLocks[poolID] = lock
	}
	return lock
}

// StorePriceSnapshot validates and persists one price point, averaging
// near-simultaneous duplicates and interpolating across moderate gaps.
func (v *Valve) StorePriceSnapshot(ctx context.Context, snap types.PriceSnapshot) (Result, error) {
	if snap.PoolID == "" {
		metrics.PricesRejected.Add(1)
		return Result{}, fmt.Errorf("%w: missing poolId", ErrValidation)
	}
	if snap.Price < v.minPrice || snap.Price > v.maxPrice {
		metrics.PricesRejected.Add(1)
		return Result{}, fmt.Errorf("%w: price %.6f outside bounds [%.6f, %.6f]",
			ErrValidation, snap.Price, v.minPrice, v.maxPrice)
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = v.now().UTC()
	}
	if snap.Quality == "" {
		snap.Quality = types.QualityActual
	}

	lock := v.poolLock(snap.PoolID)
	lock.Lock()
	defer lock.Unlock()

	// Duplicate: a buffered point within the dedup window from a different
	// source. Close prices merge to their mean; divergent prices are both
	// kept, divergence is a data-quality signal in its own right.
	if match := v.findDuplicate(snap); match != nil {
		diff := math.Abs(snap.Price-match.price) / match.price
		if diff <= priceDiffThreshold {
			mean := (snap.Price + match.price) / 2
			merged := types.PriceSnapshot{
				PoolID:     snap.PoolID,
				Price:      mean,
				CapturedAt: match.capturedAt,
				SourceID:   match.sourceID,
				Quality:    types.QualityAveragedDuplicate,
				IsReplica:  snap.IsReplica,
			}
			if err := v.store.PutPriceSnapshot(ctx, merged); err != nil {
				return Result{}, fmt.Errorf("storing averaged snapshot: %w", err)
			}
			v.replaceBuffered(snap.PoolID, *match, dedupEntry{
				price:      mean,
				capturedAt: match.capturedAt,
				sourceID:   match.sourceID,
			})
			v.cache.invalidatePrefix(snap.PoolID + "|")
			metrics.PricesAveraged.Add(1)
			v.logger.Debug("averaged duplicate price",
				"poolId", snap.PoolID, "mean", mean, "sources", []string{match.sourceID, snap.SourceID})
			return Result{Stored: true, Averaged: true, AveragedWith: match.sourceID}, nil
		}
		v.logger.Warn("divergent duplicate price, storing both",
			"poolId", snap.PoolID, "buffered", match.price, "incoming", snap.Price,
			"diffPct", diff*100)
	}

	batch := v.interpolateGap(ctx, snap)
	batch = append(batch, snap)
	if err := v.store.PutPriceSnapshots(ctx, batch); err != nil {
		return Result{}, fmt.Errorf("storing snapshots: %w", err)
	}
	metrics.PricesAccepted.Add(1)
	interpolated := len(batch) - 1
	if interpolated > 0 {
		metrics.PricesInterpolated.Add(int64(interpolated))
	}

	purged, err := v.store.PurgePriceSnapshots(ctx, snap.PoolID, v.now().Add(-v.retention))
	if err != nil {
		v.logger.Warn("retention purge failed", "poolId", snap.PoolID, "error", err)
	}

	v.appendBuffered(snap.PoolID, dedupEntry{
		price:      snap.Price,
		capturedAt: snap.CapturedAt,
		sourceID:   snap.SourceID,
	})
	v.cache.invalidatePrefix(snap.PoolID + "|")

	return Result{Stored: true, Interpolated: interpolated, Purged: purged}, nil
}

// findDuplicate returns the buffered point matching snap under the dedup
// rule, or nil. Callers hold the pool lock.
func (v *Valve) findDuplicate(snap types.PriceSnapshot) *dedupEntry {
	v.mu.Lock()
	buf := v.dedup[snap.PoolID]
	v.mu.Unlock()
	for i := len(buf) - 1; i >= 0; i-- {
		entry := buf[i]
		if entry.sourceID == snap.SourceID {
			continue
		}
		delta := snap.CapturedAt.Sub(entry.capturedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= dedupWindow {
			e := entry
			return &e
		}
	}
	return nil
}

func (v *Valve) appendBuffered(poolID string, entry dedupEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := append(v.dedup[poolID], entry)
	if len(buf) > dedupDepth {
		buf = buf[len(buf)-dedupDepth:]
	}
	v.dedup[poolID] = buf
}

func (v *Valve) replaceBuffered(poolID string, old, updated dedupEntry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := v.dedup[poolID]
	for i := range buf {
		if buf[i] == old {
			buf[i] = updated
			return
		}
	}
}

// interpolateGap returns synthetic points bridging the gap between the
// pool's most recent persisted point and snap. Gaps of 90s or less need no
// fill; gaps over 600s are too large to interpolate honestly.
func (v *Valve) interpolateGap(ctx context.Context, snap types.PriceSnapshot) []types.PriceSnapshot {
	last, err := v.store.LatestPriceSnapshot(ctx, snap.PoolID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			v.logger.Warn("latest snapshot lookup failed", "poolId", snap.PoolID, "error", err)
		}
		return nil
	}

	gap := snap.CapturedAt.Sub(last.CapturedAt)
	if gap <= minGap || gap > maxGap {
		return nil
	}

	n := int(gap/cadence) - 2
	if n > maxInterpolated {
		n = maxInterpolated
	}
	if n <= 0 {
		return nil
	}

	step := (snap.Price - last.Price) / float64(n+1)
	points := make([]types.PriceSnapshot, 0, n)
	for i := 1; i <= n; i++ {
		points = append(points, types.PriceSnapshot{
			PoolID:     snap.PoolID,
			Price:      last.Price + step*(float64(i)+2.0/3.0),
			CapturedAt: last.CapturedAt.Add(cadence * time.Duration(i+1)),
			SourceID:   snap.SourceID,
			Quality:    types.QualityInterpolated,
		})
	}
	return points
}

// GetRecentPrices returns the pool's snapshots within the last `hours`
// hours, chronological. When useCache is set, results serve from the
// read-through cache under the (pool, hours) key.
func (v *Valve) GetRecentPrices(ctx context.Context, poolID string, hours int, useCache bool) ([]types.PriceSnapshot, error) {
	if poolID == "" {
		return nil, fmt.Errorf("%w: missing poolId", ErrValidation)
	}
	if hours <= 0 {
		return nil, fmt.Errorf("%w: hours must be positive, got %d", ErrValidation, hours)
	}

	key := fmt.Sprintf("%s|%dh", poolID, hours)
	if useCache {
		if snaps, ok := v.cache.get(key); ok {
			metrics.PriceCacheHits.Add(1)
			return snaps, nil
		}
		metrics.PriceCacheMisses.Add(1)
	}

	since := v.now().Add(-time.Duration(hours) * time.Hour)
	snaps, err := v.store.ListPriceSnapshots(ctx, poolID, since)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CapturedAt.Before(snaps[j].CapturedAt)
	})
	if useCache {
		v.cache.put(key, snaps)
	}
	return snaps, nil
}

// StorePermanent writes a durable record that retention never touches.
// The target table's required fields must all be present.
func (v *Valve) StorePermanent(ctx context.Context, table string, fields map[string]interface{}) error {
	required, ok := permanentTables[table]
	if !ok {
		return fmt.Errorf("%w: unknown permanent table %q", ErrValidation, table)
	}
	for _, field := range required {
		if _, present := fields[field]; !present {
			return fmt.Errorf("%w: table %q missing required field %q", ErrValidation, table, field)
		}
	}
	rec := types.PermanentRecord{
		Table:     table,
		Fields:    fields,
		CreatedAt: v.now().UTC(),
	}
	if err := v.store.PutPermanentRecord(ctx, rec); err != nil {
		return fmt.Errorf("storing permanent record: %w", err)
	}
	v.cache.invalidatePrefix(table)
	return nil
}

// RecordHeartbeat updates an agent's last-heartbeat timestamp.
func (v *Valve) RecordHeartbeat(ctx context.Context, agentID string) error {
	return v.touchAgent(ctx, agentID, func(rec *types.AgentRecord, now time.Time) {
		rec.LastHeartbeatAt = &now
		if rec.Status == types.AgentDegraded || rec.Status == types.AgentOffline {
			rec.Status = types.AgentOnline
		}
	})
}

// MarkPriceReported updates an agent's last-price-report timestamp. Called
// alongside StorePriceSnapshot when the reporting source is a known agent.
func (v *Valve) MarkPriceReported(ctx context.Context, agentID string) error {
	return v.touchAgent(ctx, agentID, func(rec *types.AgentRecord, now time.Time) {
		rec.LastPriceReportAt = &now
	})
}

func (v *Valve) touchAgent(ctx context.Context, agentID string, apply func(*types.AgentRecord, time.Time)) error {
	rec, err := v.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	now := v.now().UTC()
	apply(rec, now)
	rec.UpdatedAt = now
	return v.store.UpdateAgent(ctx, *rec)
}

// CacheLen exposes the cache entry count for the status endpoint.
func (v *Valve) CacheLen() int {
	return v.cache.len()
}
