package guardkit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"
)

// AuditRecord is the persisted form of an Event.
type AuditRecord struct {
	bun.BaseModel `bun:"table:guardkit_audit_log,alias:gal"`

	ID         int64             `bun:"id,pk,autoincrement"`
	Kind       string            `bun:"kind,notnull"`
	Component  string            `bun:"component,notnull"`
	Caller     string            `bun:"caller,notnull"`
	Timestamp  time.Time         `bun:"timestamp,notnull,default:current_timestamp"`
	RequestID  string            `bun:"request_id"`
	IPAddress  string            `bun:"ip_address"`
	UserAgent  string            `bun:"user_agent"`
	Attributes map[string]string `bun:"attributes,type:jsonb"`
}

func newAuditRecord(e Event) *AuditRecord {
	return &AuditRecord{
		Kind:       string(e.Kind),
		Component:  e.Component,
		Caller:     e.Caller.Hex(),
		Timestamp:  e.Timestamp,
		RequestID:  e.RequestID,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Attributes: e.Attributes,
	}
}

// Event converts the record back to an Event.
func (r *AuditRecord) Event() Event {
	caller, _ := HexToAddress(r.Caller)
	return Event{
		Sequence:   uint64(r.ID),
		Kind:       EventKind(r.Kind),
		Component:  r.Component,
		Caller:     caller,
		Timestamp:  r.Timestamp,
		RequestID:  r.RequestID,
		IPAddress:  r.IPAddress,
		UserAgent:  r.UserAgent,
		Attributes: r.Attributes,
	}
}

// StateSnapshot is a stored snapshot envelope.
type StateSnapshot struct {
	bun.BaseModel `bun:"table:guardkit_snapshots,alias:gs"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Kind      string    `bun:"kind,notnull"`
	Version   int       `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	Data      []byte    `bun:"data,type:bytea,notnull"`
}

// Store persists audit events and state snapshots through dbkit. It
// implements AuditLog, so components can record straight into the database.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := guardkit.NewStore(db)
//	if err := store.Migrate(ctx); err != nil { ... }
//	registry, _ := guardkit.NewRoleRegistry(admin, guardkit.WithAuditLog(store))
type Store struct {
	db       dbkit.IDB
	logger   logrus.FieldLogger
	monitor  *callMonitor
	attempts int
	backoff  time.Duration
}

// NewStore creates a store on db. Only WithLogger applies.
func NewStore(db dbkit.IDB, opts ...Option) *Store {
	o := newOptions(opts)
	return &Store{
		db:       db,
		logger:   o.logger.WithField("component", "store"),
		monitor:  newCallMonitor(),
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

// ============================================================================
// MIGRATIONS
// ============================================================================

// Migrations returns the schema guardkit needs.
// Use store.Migrate(ctx) or dbkit's Migrate with this list.
func (s *Store) Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "guardkit-001",
			Description: "Create guardkit_audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS guardkit_audit_log (
                    id BIGSERIAL PRIMARY KEY,
                    kind TEXT NOT NULL,
                    component TEXT NOT NULL,
                    caller TEXT NOT NULL,
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    request_id TEXT,
                    ip_address TEXT,
                    user_agent TEXT,
                    attributes JSONB
                )`,
		},
		{
			ID:          "guardkit-002",
			Description: "Index guardkit_audit_log by kind, caller and time",
			SQL: `
                CREATE INDEX IF NOT EXISTS idx_guardkit_audit_kind ON guardkit_audit_log (kind);
                CREATE INDEX IF NOT EXISTS idx_guardkit_audit_caller ON guardkit_audit_log (caller);
                CREATE INDEX IF NOT EXISTS idx_guardkit_audit_timestamp ON guardkit_audit_log (timestamp)`,
		},
		{
			ID:          "guardkit-003",
			Description: "Create guardkit_snapshots table",
			SQL: `
                CREATE TABLE IF NOT EXISTS guardkit_snapshots (
                    id BIGSERIAL PRIMARY KEY,
                    kind TEXT NOT NULL,
                    version INTEGER NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    data BYTEA NOT NULL
                )`,
		},
	}
}

// Migrate applies pending migrations and returns the ids it applied.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	db, ok := s.db.(*dbkit.DBKit)
	if !ok {
		return nil, fmt.Errorf("%w: migrations require a dbkit.DBKit instance", ErrStore)
	}
	result, err := db.Migrate(ctx, s.Migrations())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	applied := make([]string, 0, len(result.Applied))
	for _, m := range result.Applied {
		applied = append(applied, m.ID)
	}
	if len(applied) > 0 {
		s.logger.WithField("migrations", applied).Info("applied migrations")
	}
	return applied, nil
}

// ============================================================================
// AUDIT LOG
// ============================================================================

// Record inserts event. Transient failures are retried.
func (s *Store) Record(ctx context.Context, event Event) error {
	return s.withRetry(ctx, "RecordAuditEvent", func() error {
		_, err := s.db.NewInsert().Model(newAuditRecord(event)).Exec(ctx)
		return err
	})
}

// Events returns the stored events matching filter, oldest first.
func (s *Store) Events(ctx context.Context, filter AuditFilter) ([]Event, error) {
	var records []AuditRecord
	q := s.db.NewSelect().Model(&records)
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.Component != "" {
		q = q.Where("component = ?", filter.Component)
	}
	if !filter.Caller.IsZero() {
		q = q.Where("caller = ?", filter.Caller.Hex())
	}
	if filter.RequestID != "" {
		q = q.Where("request_id = ?", filter.RequestID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	q = q.Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	q = q.Order("id ASC")

	if err := dbkit.WithErr1(q.Scan(ctx), "GetAuditEvents").Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	events := make([]Event, 0, len(records))
	for i := range records {
		events = append(events, records[i].Event())
	}
	return events, nil
}

// RecordBatch inserts events in batches, e.g. when replaying a MemoryAuditLog
// into the database.
func (s *Store) RecordBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*AuditRecord, len(events))
	for i, e := range events {
		records[i] = newAuditRecord(e)
	}
	return s.withRetry(ctx, "RecordAuditBatch", func() error {
		_, err := dbkit.BatchInsert(ctx, s.db, records, dbkit.BatchSize)
		return err
	})
}

// CountEvents returns the number of stored events of kind, or of every kind
// when kind is empty.
func (s *Store) CountEvents(ctx context.Context, kind EventKind) (int, error) {
	n, err := dbkit.Count[AuditRecord](ctx, s.db, func(q *bun.SelectQuery) *bun.SelectQuery {
		if kind != "" {
			return q.Where("kind = ?", string(kind))
		}
		return q
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStore, dbkit.WithErr1(err, "CountAuditEvents").Err())
	}
	return n, nil
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

// SaveSnapshot stores an encoded snapshot as produced by a component's Snapshot method.
func (s *Store) SaveSnapshot(ctx context.Context, data []byte) error {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: not a snapshot envelope: %w", ErrSnapshotVersion, err)
	}
	if _, ok := currentSnapshotVersion[env.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrSnapshotVersion, env.Kind)
	}

	row := &StateSnapshot{
		Kind:      string(env.Kind),
		Version:   int(env.Version),
		CreatedAt: env.CreatedAt,
		Data:      data,
	}
	return s.withRetry(ctx, "SaveSnapshot", func() error {
		_, err := s.db.NewInsert().Model(row).Exec(ctx)
		return err
	})
}

// LatestSnapshot returns the most recent snapshot of kind.
func (s *Store) LatestSnapshot(ctx context.Context, kind SnapshotKind) ([]byte, error) {
	var row StateSnapshot
	err := s.db.NewSelect().
		Model(&row).
		Where("kind = ?", string(kind)).
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, fmt.Errorf("%w: no %s snapshot stored", ErrStore, kind)
		}
		return nil, fmt.Errorf("%w: %w", ErrStore, dbkit.WithErr1(err, "LatestSnapshot").Err())
	}
	return row.Data, nil
}

// HasSnapshot reports whether any snapshot of kind is stored.
func (s *Store) HasSnapshot(ctx context.Context, kind SnapshotKind) bool {
	exists, err := dbkit.Exists[StateSnapshot](ctx, s.db, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("kind = ?", string(kind))
	})
	return err == nil && exists
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// Transaction runs fn inside a database transaction. fn receives a Store bound
// to the transaction; returning an error rolls it back. Nested calls use a
// savepoint.
//
// Example:
//
//	err := store.Transaction(ctx, func(ctx context.Context, tx *guardkit.Store) error {
//	    if err := tx.SaveSnapshot(ctx, roles); err != nil {
//	        return err
//	    }
//	    return tx.SaveSnapshot(ctx, timelock)
//	})
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	start := time.Now()
	var err error

	bind := func(tx *dbkit.Tx) error {
		return fn(ctx, s.with(tx))
	}
	switch db := s.db.(type) {
	case *dbkit.Tx:
		err = db.Transaction(ctx, bind)
	case *dbkit.DBKit:
		err = db.Transaction(ctx, bind)
	default:
		err = fmt.Errorf("%w: transactions require a dbkit.DBKit or dbkit.Tx instance", ErrStore)
	}

	s.monitor.record(time.Since(start), err)
	return err
}

func (s *Store) with(db dbkit.IDB) *Store {
	cp := *s
	cp.db = db
	return &cp
}

// withRetry runs a write, retrying transient failures with exponential
// backoff and jitter.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		start := time.Now()
		err = fn()
		s.monitor.record(time.Since(start), err)
		if err == nil {
			return nil
		}
		if !isTransientError(err) || ctx.Err() != nil || attempt == s.attempts-1 {
			break
		}

		backoff := s.backoff << uint(attempt)
		jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + rand.Float64()))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt + 1,
		}).Warn("transient store error, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStore, ctx.Err())
		case <-time.After(backoff + jitter):
		}
	}
	return fmt.Errorf("%w: %w", ErrStore, dbkit.WithErr1(err, op).Err())
}

var transientErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"deadlock",
	"lock wait timeout",
	"temporary failure",
	"try again",
	"resource temporarily unavailable",
}

// isTransientError reports whether err is worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, t := range transientErrors {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

// ============================================================================
// HEALTH
// ============================================================================

// Health reports database health, with pool statistics when available.
func (s *Store) Health(ctx context.Context) dbkit.HealthStatus {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.Health(ctx)
	}
	return dbkit.HealthStatus{
		Healthy: s.Ping(ctx) == nil,
		Error:   "Limited health check - not a DBKit instance",
	}
}

// IsHealthy reports whether the database is reachable.
func (s *Store) IsHealthy(ctx context.Context) bool {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return db.IsHealthy(ctx)
	}
	return s.Ping(ctx) == nil
}

// Ping runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var result int
	return s.db.NewSelect().Model((*struct{})(nil)).ColumnExpr("1").Limit(1).Scan(ctx, &result)
}

// PoolStats returns connection pool statistics, or zero values inside a transaction.
func (s *Store) PoolStats() dbkit.PoolStats {
	if db, ok := s.db.(*dbkit.DBKit); ok {
		return dbkit.PoolStatsFromSQL(db.Stats())
	}
	return dbkit.PoolStats{}
}

// WriteMetrics returns statistics of store writes and transactions.
func (s *Store) WriteMetrics() CallMetrics {
	return s.monitor.metrics()
}

// IsWriteHealthy reports whether store writes fail less than 5% of the time.
func (s *Store) IsWriteHealthy() bool {
	return s.monitor.healthy()
}
