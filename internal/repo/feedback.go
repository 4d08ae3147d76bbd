package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"idsboard/internal/domain"
)

func (r Repo) InsertFeedback(ctx context.Context, f domain.Feedback) error {
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO feedback(id,created_at,user_id,title,description,category,priority,status,tags_json)
VALUES (?,?,?,?,?,?,?,?,?)`,
		f.ID, f.CreatedAt, f.UserID, f.Title, nullable(f.Description), f.Category, f.Priority, f.Status, string(tags))
	return err
}

func (r Repo) GetFeedback(ctx context.Context, id string) (domain.Feedback, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,created_at,user_id,title,description,category,priority,status,tags_json FROM feedback WHERE id=?`, id)
	f, err := scanFeedback(row.Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) ListFeedback(ctx context.Context, userID string) ([]domain.Feedback, error) {
	query := `SELECT id,created_at,user_id,title,description,category,priority,status,tags_json FROM feedback`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpdateFeedbackStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE feedback SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFeedback(scan func(...any) error) (domain.Feedback, error) {
	var f domain.Feedback
	var desc, tags sql.NullString
	err := scan(&f.ID, &f.CreatedAt, &f.UserID, &f.Title, &desc, &f.Category, &f.Priority, &f.Status, &tags)
	if err != nil {
		return f, err
	}
	if desc.Valid {
		f.Description = desc.String
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &f.Tags); err != nil {
			return f, err
		}
	}
	return f, nil
}
