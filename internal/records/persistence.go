package records

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ferry/internal/services"
	"ferry/internal/transfer"
)

// MarkTransferred flags the records behind ref as transferred at the given
// time, clears their remote error, and resets the retry counter. Records that
// were already marked keep their original timestamp.
func (s *Store) MarkTransferred(ctx context.Context, ref transfer.ItemRef, at time.Time) error {
	stamp := formatTime(at)
	updated := formatTime(s.now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := resolveRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO transfer_log (tenant_id, record_id, item_kind, item_id, transferred_at)
                 VALUES (?, ?, ?, ?, ?)`,
				ref.TenantID, id, string(ref.Kind), ref.ID, stamp,
			)
			if err != nil {
				return fmt.Errorf("insert transfer log: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE records
                 SET transferred = 1, transferred_at = ?, remote_error = '', retry_count = 0, updated_at = ?
                 WHERE tenant_id = ? AND id = ?`,
				stamp, updated, ref.TenantID, id,
			); err != nil {
				return fmt.Errorf("mark record %d transferred: %w", id, err)
			}
		}
		return nil
	})
}

// RecordError stores message against the records behind ref and increments
// their retry counters.
func (s *Store) RecordError(ctx context.Context, ref transfer.ItemRef, message string) error {
	updated := formatTime(s.now())
	message = strings.TrimSpace(message)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := resolveRef(ctx, tx, ref)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE records
                 SET remote_error = ?, retry_count = retry_count + 1, updated_at = ?
                 WHERE tenant_id = ? AND id = ?`,
				message, updated, ref.TenantID, id,
			); err != nil {
				return fmt.Errorf("record error on %d: %w", id, err)
			}
		}
		return nil
	})
}

// TransferLogCount returns how many transfer marks exist for tenant.
func (s *Store) TransferLogCount(ctx context.Context, tenant string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM transfer_log WHERE tenant_id = ?", tenant).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transfer log: %w", err)
	}
	return n, nil
}

// resolveRef returns the record ids ref covers within its tenant.
func resolveRef(ctx context.Context, tx *sql.Tx, ref transfer.ItemRef) ([]int64, error) {
	if strings.TrimSpace(ref.TenantID) == "" {
		return nil, services.Wrap(services.ErrValidation, "records", "resolve", "tenant is required", nil)
	}
	var (
		query string
		args  []any
	)
	switch ref.Kind {
	case transfer.KindIndividual:
		id, err := strconv.ParseInt(ref.ID, 10, 64)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "records", "resolve", "invalid record id "+strconv.Quote(ref.ID), err)
		}
		query = "SELECT id FROM records WHERE tenant_id = ? AND id = ?"
		args = []any{ref.TenantID, id}
	case transfer.KindGroup:
		query = "SELECT id FROM records WHERE tenant_id = ? AND group_key = ?"
		args = []any{ref.TenantID, ref.ID}
		if len(ref.Members) > 0 {
			query += " AND id IN (" + placeholders(len(ref.Members)) + ")"
			for _, m := range ref.Members {
				args = append(args, m)
			}
		}
	default:
		return nil, services.Wrap(services.ErrValidation, "records", "resolve", "unknown item kind "+strconv.Quote(string(ref.Kind)), nil)
	}
	query += " ORDER BY id"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", ref.Kind, ref.ID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "records", "resolve",
			fmt.Sprintf("%s %s not found for tenant %s", ref.Kind, ref.ID, ref.TenantID), nil)
	}
	return ids, nil
}
