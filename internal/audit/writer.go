// Package audit appends audit trail entries inside the caller's
// transaction so an entry never outlives a rolled-back mutation.
package audit

import (
	"context"
	"database/sql"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, action, taskID, userID string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	var task any
	if taskID != "" {
		task = taskID
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log(action,task_id,user_id,created_at) VALUES (?,?,?,?)`,
		action, task, userID, ts)
	return err
}
