package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ferry/internal/services"
	"ferry/internal/transfer"
)

const recordColumns = "id, tenant_id, student_number, student_name, class_name, group_key, session_date, topic, activity_type, location, notes, duration_minutes, transferred, transferred_at, remote_error, retry_count"

// Insert stores a new record and returns it with its assigned id.
func (s *Store) Insert(ctx context.Context, rec transfer.Record) (transfer.Record, error) {
	if err := validateRecord(rec); err != nil {
		return transfer.Record{}, err
	}
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO records (
                tenant_id, student_number, student_name, class_name, group_key,
                session_date, topic, activity_type, location, notes, duration_minutes,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			strings.TrimSpace(rec.TenantID),
			strings.TrimSpace(rec.StudentNumber),
			strings.TrimSpace(rec.StudentName),
			strings.TrimSpace(rec.ClassName),
			strings.TrimSpace(rec.GroupKey),
			rec.SessionDate.Format(dateLayout),
			strings.TrimSpace(rec.Topic),
			strings.TrimSpace(rec.ActivityType),
			strings.TrimSpace(rec.Location),
			rec.Notes,
			rec.DurationMinutes,
			now,
			now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return transfer.Record{}, fmt.Errorf("insert record: %w", err)
	}
	return s.Get(ctx, rec.TenantID, id)
}

func validateRecord(rec transfer.Record) error {
	var missing []string
	if strings.TrimSpace(rec.TenantID) == "" {
		missing = append(missing, "tenant_id")
	}
	if strings.TrimSpace(rec.StudentNumber) == "" {
		missing = append(missing, "student_number")
	}
	if strings.TrimSpace(rec.StudentName) == "" {
		missing = append(missing, "student_name")
	}
	if strings.TrimSpace(rec.Topic) == "" {
		missing = append(missing, "topic")
	}
	if rec.SessionDate.IsZero() {
		missing = append(missing, "session_date")
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, "records", "insert", "missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Get returns the record owned by tenant.
func (s *Store) Get(ctx context.Context, tenant string, id int64) (transfer.Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE tenant_id = ? AND id = ?",
		tenant, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Record{}, services.Wrap(services.ErrNotFound, "records", "get", fmt.Sprintf("record %d", id), nil)
	}
	if err != nil {
		return transfer.Record{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

// SelectRecords returns records matching filters ordered by session date and
// id. An empty TenantID selects across tenants.
func (s *Store) SelectRecords(ctx context.Context, filters transfer.Filters) ([]transfer.Record, error) {
	return s.query(ctx, filters, 0)
}

// List is SelectRecords with an optional row limit for display.
func (s *Store) List(ctx context.Context, filters transfer.Filters, limit int) ([]transfer.Record, error) {
	return s.query(ctx, filters, limit)
}

func (s *Store) query(ctx context.Context, filters transfer.Filters, limit int) ([]transfer.Record, error) {
	ctx = ensureContext(ctx)
	where, args := buildWhere(filters)
	query := "SELECT " + recordColumns + " FROM records"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY session_date, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	var out []transfer.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func buildWhere(filters transfer.Filters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if tenant := strings.TrimSpace(filters.TenantID); tenant != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, tenant)
	}
	if len(filters.RecordIDs) > 0 {
		clauses = append(clauses, "id IN ("+placeholders(len(filters.RecordIDs))+")")
		for _, id := range filters.RecordIDs {
			args = append(args, id)
		}
	}
	if filters.OnlyNotTransferred {
		clauses = append(clauses, "transferred = 0")
	}
	if !filters.From.IsZero() {
		clauses = append(clauses, "session_date >= ?")
		args = append(args, filters.From.Format(dateLayout))
	}
	if !filters.To.IsZero() {
		clauses = append(clauses, "session_date <= ?")
		args = append(args, filters.To.Format(dateLayout))
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Stats summarizes record transfer state.
type Stats struct {
	Total       int `json:"total"`
	Transferred int `json:"transferred"`
	Pending     int `json:"pending"`
	WithErrors  int `json:"with_errors"`
}

// Stats counts records for tenant, or all tenants when tenant is blank.
func (s *Store) Stats(ctx context.Context, tenant string) (Stats, error) {
	ctx = ensureContext(ctx)
	query := `SELECT
        COUNT(1),
        COALESCE(SUM(CASE WHEN transferred = 1 THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN transferred = 0 AND remote_error != '' THEN 1 ELSE 0 END), 0)
        FROM records`
	var args []any
	if tenant = strings.TrimSpace(tenant); tenant != "" {
		query += " WHERE tenant_id = ?"
		args = append(args, tenant)
	}
	var st Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&st.Total, &st.Transferred, &st.WithErrors); err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}
	st.Pending = st.Total - st.Transferred
	return st, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (transfer.Record, error) {
	var (
		rec           transfer.Record
		sessionDate   string
		transferred   int
		transferredAt sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.StudentNumber,
		&rec.StudentName,
		&rec.ClassName,
		&rec.GroupKey,
		&sessionDate,
		&rec.Topic,
		&rec.ActivityType,
		&rec.Location,
		&rec.Notes,
		&rec.DurationMinutes,
		&transferred,
		&transferredAt,
		&rec.RemoteError,
		&rec.RetryCount,
	); err != nil {
		return transfer.Record{}, err
	}
	if parsed, err := time.Parse(dateLayout, sessionDate); err == nil {
		rec.SessionDate = parsed
	}
	rec.Transferred = transferred != 0
	rec.TransferredAt = parseTime(transferredAt)
	return rec, nil
}
