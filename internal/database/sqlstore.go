package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS service_health_checks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	hostname      TEXT NOT NULL,
	local_ip      TEXT NOT NULL,
	public_ip     TEXT NOT NULL,
	service_group TEXT NOT NULL,
	service_name  TEXT NOT NULL,
	status        TEXT NOT NULL,
	response_time REAL,
	url           TEXT,
	extra_data    TEXT,
	timestamp     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_health_checks_timestamp ON service_health_checks (timestamp);

CREATE TABLE IF NOT EXISTS service_recoveries (
	seq                    INTEGER PRIMARY KEY AUTOINCREMENT,
	id                     TEXT NOT NULL UNIQUE,
	service_group          TEXT NOT NULL,
	service_name           TEXT NOT NULL,
	status                 TEXT NOT NULL,
	stage                  TEXT,
	error                  TEXT,
	hostname               TEXT,
	local_ip               TEXT,
	public_ip              TEXT,
	start_time             DATETIME NOT NULL,
	end_time               DATETIME,
	stabilization_end_time DATETIME,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recoveries_pair ON service_recoveries (service_group, service_name);
`

// sqlite caps bound parameters per statement; each row binds 10.
const insertBatchRows = 80

const healthCheckColumns = `id, hostname, local_ip, public_ip, service_group, service_name,
	status, response_time, url, extra_data, timestamp`

const recoveryColumns = `id, service_group, service_name, status, stage, error, hostname,
	local_ip, public_ip, start_time, end_time, stabilization_end_time, created_at, updated_at`

// SQLStore implements Store on SQLite with the same tables the status page
// has always used.
type SQLStore struct {
	db   *sql.DB
	path string
}

func NewSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps batch commits serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLStore{db: db, path: path}, nil
}

func (s *SQLStore) AppendHealthChecks(ctx context.Context, records []HealthCheckRecord, pruneBefore time.Time) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(records); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(records) {
			end = len(records)
		}
		if err := insertHealthChecks(ctx, tx, records[start:end]); err != nil {
			return 0, 0, err
		}
	}

	pruned := 0
	if !pruneBefore.IsZero() {
		res, err := tx.ExecContext(ctx, `DELETE FROM service_health_checks WHERE timestamp < ?`, pruneBefore.UTC())
		if err != nil {
			return 0, 0, fmt.Errorf("failed to prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		pruned = int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return len(records), pruned, nil
}

// insertHealthChecks writes rows with one multi-row INSERT and assigns IDs
// from the last insert id.
func insertHealthChecks(ctx context.Context, tx *sql.Tx, records []HealthCheckRecord) error {
	if len(records) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*10)
	for i := range records {
		r := &records[i]
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now().UTC()
		}
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Hostname, r.LocalIP, r.PublicIP, r.ServiceGroup, r.ServiceName,
			r.Status, r.ResponseTime, r.URL, nullString(r.ExtraData), r.Timestamp.UTC(),
		)
	}

	query := `INSERT INTO service_health_checks
		(hostname, local_ip, public_ip, service_group, service_name, status, response_time, url, extra_data, timestamp)
		VALUES ` + strings.Join(placeholders, ", ")

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert health checks: %w", err)
	}

	// sqlite assigns consecutive rowids to a single multi-row insert.
	if last, err := res.LastInsertId(); err == nil {
		first := last - int64(len(records)) + 1
		for i := range records {
			records[i].ID = uint64(first + int64(i))
		}
	}
	return nil
}

func (s *SQLStore) CreateHealthCheck(ctx context.Context, record *HealthCheckRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	batch := []HealthCheckRecord{*record}
	if err := insertHealthChecks(ctx, tx, batch); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health check: %w", err)
	}
	*record = batch[0]
	return nil
}

func healthCheckWhere(filters HealthCheckFilters, timeOnly bool) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if !filters.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filters.Since.UTC())
	}
	if !filters.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, filters.Until.UTC())
	}
	if !timeOnly {
		if filters.Group != "" {
			clauses = append(clauses, "service_group = ?")
			args = append(args, filters.Group)
		}
		if filters.Service != "" {
			clauses = append(clauses, "service_name = ?")
			args = append(args, filters.Service)
		}
		if filters.IP != "" {
			clauses = append(clauses, "(local_ip = ? OR public_ip = ?)")
			args = append(args, filters.IP, filters.IP)
		}
		if filters.Status != "" {
			clauses = append(clauses, "status = ?")
			args = append(args, filters.Status)
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLStore) QueryHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error) {
	where, args := healthCheckWhere(filters, false)
	query := `SELECT ` + healthCheckColumns + ` FROM service_health_checks` + where + ` ORDER BY timestamp DESC, id DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}
	return s.queryHealthChecks(ctx, query, args...)
}

func (s *SQLStore) LatestHealthChecks(ctx context.Context, filters HealthCheckFilters) ([]HealthCheckRecord, error) {
	where, args := healthCheckWhere(filters, true)
	query := `SELECT ` + healthCheckColumns + ` FROM service_health_checks` + where + ` ORDER BY timestamp DESC, id DESC`
	rows, err := s.queryHealthChecks(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return filterLatest(rows, filters), nil
}

func (s *SQLStore) queryHealthChecks(ctx context.Context, query string, args ...interface{}) ([]HealthCheckRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health checks: %w", err)
	}
	defer rows.Close()

	var records []HealthCheckRecord
	for rows.Next() {
		var (
			r            HealthCheckRecord
			responseTime sql.NullFloat64
			url          sql.NullString
			extra        sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Hostname, &r.LocalIP, &r.PublicIP, &r.ServiceGroup, &r.ServiceName,
			&r.Status, &responseTime, &url, &extra, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", err)
		}
		if responseTime.Valid {
			v := responseTime.Float64
			r.ResponseTime = &v
		}
		if url.Valid {
			v := url.String
			r.URL = &v
		}
		r.ExtraData = extra.String
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLStore) DeleteHealthChecks(ctx context.Context, filters DeleteFilters) (int, error) {
	if !filters.All && filters.Before.IsZero() {
		return 0, fmt.Errorf("delete requires a cutoff time")
	}

	var clauses []string
	var args []interface{}
	if !filters.All {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, filters.Before.UTC())
	}
	if filters.Group != "" {
		clauses = append(clauses, "service_group = ?")
		args = append(args, filters.Group)
	}
	if filters.Service != "" {
		clauses = append(clauses, "service_name = ?")
		args = append(args, filters.Service)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	if filters.DryRun {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_health_checks`+where, args...).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count history: %w", err)
		}
		return count, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM service_health_checks`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	n, _ := res.RowsAffected()

	logrus.WithFields(logrus.Fields{
		"deleted_count": n,
		"group":         filters.Group,
		"service":       filters.Service,
	}).Info("Deleted health check entries")
	return int(n), nil
}

type sqlRecoveryTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqlRecoveryTx) OpenRecoveries(group, service string) ([]RecoveryState, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+recoveryColumns+` FROM service_recoveries
		  WHERE service_group = ? AND service_name = ? AND end_time IS NULL
		  ORDER BY created_at DESC, seq DESC`, group, service)
	if err != nil {
		return nil, fmt.Errorf("failed to query open recoveries: %w", err)
	}
	defer rows.Close()
	return scanRecoveries(rows)
}

func (t *sqlRecoveryTx) PutRecovery(rec *RecoveryState) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO service_recoveries (`+recoveryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   stage = excluded.stage,
		   error = excluded.error,
		   end_time = excluded.end_time,
		   stabilization_end_time = excluded.stabilization_end_time,
		   updated_at = excluded.updated_at`,
		rec.ID, rec.ServiceGroup, rec.ServiceName, rec.Status,
		nullString(rec.Stage), nullString(rec.Error), nullString(rec.Hostname),
		nullString(rec.LocalIP), nullString(rec.PublicIP),
		rec.StartTime.UTC(), nullTime(rec.EndTime), nullTime(rec.StabilizationEndTime),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store recovery: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateRecoveries(ctx context.Context, fn func(tx RecoveryTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlRecoveryTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) LatestRecovery(ctx context.Context, filters RecoveryFilters) (*RecoveryState, error) {
	var clauses []string
	var args []interface{}
	if filters.Service != "" {
		clauses = append(clauses, "service_name = ?")
		args = append(args, filters.Service)
	}
	if filters.Group != "" {
		clauses = append(clauses, "service_group = ?")
		args = append(args, filters.Group)
	}
	if filters.PublicIP != "" {
		clauses = append(clauses, "public_ip = ?")
		args = append(args, filters.PublicIP)
	}
	if filters.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filters.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recoveryColumns+` FROM service_recoveries`+where+` ORDER BY created_at DESC, seq DESC LIMIT 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecoveries(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func scanRecoveries(rows *sql.Rows) ([]RecoveryState, error) {
	var out []RecoveryState
	for rows.Next() {
		var (
			r                                 RecoveryState
			stage, errMsg, hostname, lip, pip sql.NullString
			endTime, stabilizationEnd         sql.NullTime
		)
		if err := rows.Scan(
			&r.ID, &r.ServiceGroup, &r.ServiceName, &r.Status, &stage, &errMsg, &hostname,
			&lip, &pip, &r.StartTime, &endTime, &stabilizationEnd, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recovery: %w", err)
		}
		r.Stage, r.Error, r.Hostname = stage.String, errMsg.String, hostname.String
		r.LocalIP, r.PublicIP = lip.String, pip.String
		if endTime.Valid {
			t := endTime.Time
			r.EndTime = &t
		}
		if stabilizationEnd.Valid {
			t := stabilizationEnd.Time
			r.StabilizationEndTime = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Engine: "sqlite"}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_health_checks`).Scan(&stats.TotalHealthChecks); err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_recoveries`).Scan(&stats.TotalRecoveries); err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if stats.TotalHealthChecks > 0 {
		oldest, err := s.boundaryTimestamp(ctx, "ASC")
		if err != nil {
			return nil, err
		}
		newest, err := s.boundaryTimestamp(ctx, "DESC")
		if err != nil {
			return nil, err
		}
		stats.OldestEntry, stats.NewestEntry = oldest, newest
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

func (s *SQLStore) boundaryTimestamp(ctx context.Context, order string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM service_health_checks ORDER BY timestamp `+order+` LIMIT 1`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read timestamp bounds: %w", err)
	}
	return ts, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
