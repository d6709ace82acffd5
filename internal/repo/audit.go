package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskflow/internal/domain"
)

type AuditFilters struct {
	TaskID string
	UserID string
	Limit  int
	Cursor int64
}

// ListAudit returns audit entries newest first.
func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,action,task_id,user_id,created_at FROM audit_log ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.queryAudit(ctx, query, args...)
}

// AuditAfter returns entries with IDs greater than the cursor in
// ascending order. The webhook dispatcher tails the log with it.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryAudit(ctx, `SELECT id,action,task_id,user_id,created_at FROM audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestAuditID returns the most recent audit entry ID.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id)
	return id, err
}

func (r Repo) queryAudit(ctx context.Context, query string, args ...any) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var taskID sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &taskID, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		res = append(res, e)
	}
	return res, nil
}
