package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,message,recipient_id,sender_id,task_id,project_id,read,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.Message, n.RecipientID, n.SenderID, nullableStringPtr(n.TaskID), n.ProjectID, n.Read, n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	var n domain.Notification
	var taskID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,message,recipient_id,sender_id,task_id,project_id,read,created_at FROM notifications WHERE id=?`, id).
		Scan(&n.ID, &n.Message, &n.RecipientID, &n.SenderID, &taskID, &n.ProjectID, &n.Read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if taskID.Valid {
		n.TaskID = &taskID.String
	}
	return n, err
}

// ListUnreadNotifications returns a recipient's unread notifications,
// newest first.
func (r Repo) ListUnreadNotifications(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,message,recipient_id,sender_id,task_id,project_id,read,created_at FROM notifications WHERE recipient_id=? AND read=0 ORDER BY created_at DESC, id DESC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var taskID sql.NullString
		if err := rows.Scan(&n.ID, &n.Message, &n.RecipientID, &n.SenderID, &taskID, &n.ProjectID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			n.TaskID = &taskID.String
		}
		res = append(res, n)
	}
	return res, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
