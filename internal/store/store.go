// Package store persists the trust ledger, reconciliation history, anomalies, audit log and run
// leases in SQLite.
//
// Financial mutations and their audit entries are written through WithTx so that they commit or
// roll back together. The schema backs the service-level finality rules with triggers: a
// reconciled transaction's cleared flag cannot change, reconciled transactions cannot be deleted,
// and sealed jobs and audit rows are append-only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/audit"
	"github.com/cleared-dev/trustrecon/internal/model"
)

// Tx is the set of queries available inside and outside an atomic unit.
type Tx interface {
	CreateAccount(ctx context.Context, a model.TrustAccount) error
	GetAccount(ctx context.Context, id string) (model.TrustAccount, error)
	ListAccounts(ctx context.Context, orgID string) ([]model.TrustAccount, error)

	InsertTransaction(ctx context.Context, t model.TrustTransaction) error
	GetTransaction(ctx context.Context, id string) (model.TrustTransaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]model.TrustTransaction, error)
	SetCleared(ctx context.Context, id string, cleared bool, date *time.Time) error
	MarkReconciled(ctx context.Context, id string, at time.Time) error
	Balance(ctx context.Context, accountID string, asOf *time.Time) (decimal.Decimal, error)

	SaveStatement(ctx context.Context, s model.StoredStatement) error
	LatestStatement(ctx context.Context, accountID string) (model.StoredStatement, error)

	SaveSchedule(ctx context.Context, s model.ReconciliationSchedule) error
	GetSchedule(ctx context.Context, id string) (model.ReconciliationSchedule, error)
	ListSchedules(ctx context.Context, orgID string, activeOnly bool) ([]model.ReconciliationSchedule, error)
	SetScheduleLastRun(ctx context.Context, id string, at time.Time) error

	InsertJob(ctx context.Context, j model.ReconciliationJob) error
	ListJobs(ctx context.Context, f JobFilter) ([]model.ReconciliationJob, error)

	FindAnomaly(ctx context.Context, orgID, txnID string, cat model.AnomalyCategory) (model.FinancialAnomaly, bool, error)
	GetAnomaly(ctx context.Context, id string) (model.FinancialAnomaly, error)
	InsertAnomaly(ctx context.Context, a model.FinancialAnomaly) error
	UpdateAnomaly(ctx context.Context, a model.FinancialAnomaly) error
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]model.FinancialAnomaly, error)
	InsertAnomalyEvent(ctx context.Context, e model.AnomalyEvent) error
	ListAnomalyEvents(ctx context.Context, anomalyID string) ([]model.AnomalyEvent, error)

	AppendAudit(ctx context.Context, e audit.Entry) error
	ListAudit(ctx context.Context, f AuditFilter) ([]audit.Entry, error)

	AcquireLease(ctx context.Context, accountID, holder string, now time.Time, ttl time.Duration) (model.Lease, error)
	ReleaseLease(ctx context.Context, accountID, holder string) error
}

// DB is a Tx that can also open atomic units. *Store implements it.
type DB interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Tx over either the database handle or an open transaction.
type queries struct {
	q querier
}

var (
	_ Tx = (*queries)(nil)
	_ DB = (*Store)(nil)
)

// Store is a SQLite-backed implementation of Tx with atomic units via WithTx.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// Open opens (and migrates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{queries: &queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one database transaction. Any error from fn rolls back every write
// made through the Tx it was given.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS trust_accounts (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name TEXT NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_transactions (
	id TEXT PRIMARY KEY,
	trust_account_id TEXT NOT NULL REFERENCES trust_accounts(id),
	client_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	transaction_date TEXT NOT NULL,
	description TEXT NOT NULL,
	category TEXT NOT NULL,
	check_number TEXT NOT NULL,
	reference TEXT NOT NULL,
	is_cleared INTEGER NOT NULL DEFAULT 0,
	cleared_date TEXT,
	is_reconciled INTEGER NOT NULL DEFAULT 0,
	reconciled_date TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trust_transactions_account_date
	ON trust_transactions(trust_account_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_trust_transactions_reference
	ON trust_transactions(reference);

CREATE TRIGGER IF NOT EXISTS trg_reconciled_cleared_frozen
BEFORE UPDATE OF is_cleared, cleared_date ON trust_transactions
WHEN OLD.is_reconciled = 1
BEGIN
	SELECT RAISE(ABORT, 'reconciled transaction is immutable');
END;

CREATE TRIGGER IF NOT EXISTS trg_reconciled_irrevocable
BEFORE UPDATE OF is_reconciled ON trust_transactions
WHEN OLD.is_reconciled = 1 AND NEW.is_reconciled = 0
BEGIN
	SELECT RAISE(ABORT, 'reconciliation is irrevocable');
END;

CREATE TRIGGER IF NOT EXISTS trg_reconciled_no_delete
BEFORE DELETE ON trust_transactions
WHEN OLD.is_reconciled = 1
BEGIN
	SELECT RAISE(ABORT, 'reconciled transaction cannot be deleted');
END;

CREATE TABLE IF NOT EXISTS statements (
	id TEXT PRIMARY KEY,
	trust_account_id TEXT NOT NULL REFERENCES trust_accounts(id),
	format TEXT NOT NULL,
	file_name TEXT NOT NULL,
	raw BLOB NOT NULL,
	period_start TEXT NOT NULL,
	period_end TEXT NOT NULL,
	ingested_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statements_account
	ON statements(trust_account_id, ingested_at);

CREATE TABLE IF NOT EXISTS reconciliation_schedules (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	trust_account_id TEXT NOT NULL REFERENCES trust_accounts(id),
	frequency TEXT NOT NULL,
	time_of_day TEXT NOT NULL,
	day_of_week INTEGER,
	day_of_month INTEGER,
	timezone TEXT NOT NULL,
	is_active INTEGER NOT NULL,
	last_run_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reconciliation_jobs (
	id TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	trust_account_id TEXT NOT NULL,
	statement_id TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	matched_count INTEGER NOT NULL,
	unmatched_ledger_count INTEGER NOT NULL,
	unmatched_statement_count INTEGER NOT NULL,
	ledger_balance TEXT NOT NULL,
	statement_closing_balance TEXT,
	discrepancy TEXT,
	error_detail TEXT NOT NULL,
	created_by TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_schedule
	ON reconciliation_jobs(schedule_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_jobs_account
	ON reconciliation_jobs(trust_account_id, completed_at);

CREATE TRIGGER IF NOT EXISTS trg_jobs_sealed
BEFORE UPDATE ON reconciliation_jobs
BEGIN
	SELECT RAISE(ABORT, 'reconciliation job is sealed');
END;

CREATE TRIGGER IF NOT EXISTS trg_jobs_no_delete
BEFORE DELETE ON reconciliation_jobs
BEGIN
	SELECT RAISE(ABORT, 'reconciliation job is sealed');
END;

CREATE TABLE IF NOT EXISTS financial_anomalies (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	trust_account_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	category TEXT NOT NULL,
	severity TEXT NOT NULL,
	score REAL NOT NULL,
	confidence REAL NOT NULL,
	details TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_to TEXT NOT NULL,
	resolution_notes TEXT NOT NULL,
	resolved_by TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (organization_id, transaction_id, category)
);

CREATE TABLE IF NOT EXISTS anomaly_events (
	id TEXT PRIMARY KEY,
	anomaly_id TEXT NOT NULL REFERENCES financial_anomalies(id),
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL,
	notes TEXT NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomaly_events_anomaly
	ON anomaly_events(anomaly_id, at);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	details TEXT NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_resource
	ON audit_log(resource_id, at);

CREATE TRIGGER IF NOT EXISTS trg_audit_no_update
BEFORE UPDATE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS trg_audit_no_delete
BEFORE DELETE ON audit_log
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;

CREATE TABLE IF NOT EXISTS reconciliation_leases (
	trust_account_id TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`

// Timestamps are stored as fixed-width UTC strings so they compare lexicographically.
const (
	tsLayout   = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTS(*t), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func scanNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", ns.String, err)
	}
	return &d, nil
}

func scanNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
