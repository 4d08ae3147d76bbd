package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"idsboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- profiles ---

// EnsureProfile inserts a profile row if one does not exist for the id.
func (r Repo) EnsureProfile(ctx context.Context, id, email string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO profile(id,email) VALUES (?,?)`, id, email)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT id,email FROM profile WHERE id=?`, id).Scan(&p.ID, &p.Email)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email FROM profile ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Email); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- headlines ---

type HeadlineFilters struct {
	WeekStart string
	WeekEnd   string
	Status    string
	CreatedBy string
}

func (r Repo) InsertHeadline(ctx context.Context, h domain.Headline) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO headlines(id,title,description,created_by,created_at,status) VALUES (?,?,?,?,?,?)`,
		h.ID, h.Title, nullable(h.Description), h.CreatedBy, h.CreatedAt, h.Status)
	return err
}

func (r Repo) GetHeadline(ctx context.Context, id string) (domain.Headline, error) {
	var h domain.Headline
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,created_by,created_at,status FROM headlines WHERE id=?`, id).
		Scan(&h.ID, &h.Title, &desc, &h.CreatedBy, &h.CreatedAt, &h.Status)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if desc.Valid {
		h.Description = desc.String
	}
	return h, err
}

func (r Repo) ListHeadlines(ctx context.Context, f HeadlineFilters) ([]domain.Headline, error) {
	var clauses []string
	var args []any
	if f.WeekStart != "" && f.WeekEnd != "" {
		clauses = append(clauses, "created_at >= ?", "created_at < ?")
		args = append(args, f.WeekStart, f.WeekEnd)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,title,description,created_by,created_at,status FROM headlines ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Headline
	for rows.Next() {
		var h domain.Headline
		var desc sql.NullString
		if err := rows.Scan(&h.ID, &h.Title, &desc, &h.CreatedBy, &h.CreatedAt, &h.Status); err != nil {
			return nil, err
		}
		if desc.Valid {
			h.Description = desc.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) UpdateHeadline(ctx context.Context, h domain.Headline) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE headlines SET title=?, description=?, status=? WHERE id=?`,
		h.Title, nullable(h.Description), h.Status, h.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateHeadlineStatus(ctx context.Context, id, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE headlines SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteHeadline(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM headlines WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- issues ---

type IssueFilters struct {
	WeekStart     string
	WeekEnd       string
	Status        string
	CreatedBy     string
	ExcludeSolved bool
}

func (r Repo) InsertIssue(ctx context.Context, i domain.Issue) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO issues(id,title,description,created_by,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		i.ID, i.Title, nullable(i.Description), i.CreatedBy, i.Status, i.CreatedAt, i.UpdatedAt)
	return err
}

func (r Repo) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	var i domain.Issue
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,created_by,status,created_at,updated_at FROM issues WHERE id=?`, id).
		Scan(&i.ID, &i.Title, &desc, &i.CreatedBy, &i.Status, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if desc.Valid {
		i.Description = desc.String
	}
	return i, err
}

func (r Repo) ListIssues(ctx context.Context, f IssueFilters) ([]domain.Issue, error) {
	var clauses []string
	var args []any
	if f.WeekStart != "" && f.WeekEnd != "" {
		clauses = append(clauses, "created_at >= ?", "created_at < ?")
		args = append(args, f.WeekStart, f.WeekEnd)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.ExcludeSolved {
		clauses = append(clauses, "status != ?")
		args = append(args, domain.IssueSolved)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,title,description,created_by,status,created_at,updated_at FROM issues ` + where + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		var i domain.Issue
		var desc sql.NullString
		if err := rows.Scan(&i.ID, &i.Title, &desc, &i.CreatedBy, &i.Status, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			i.Description = desc.String
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// UpdateIssueContent rewrites title and description only.
func (r Repo) UpdateIssueContent(ctx context.Context, id, title, description, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET title=?, description=?, updated_at=? WHERE id=?`,
		title, nullable(description), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateIssueStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE issues SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- deliverables ---

type TodoFilters struct {
	IssueID       string
	DueStart      string
	DueEnd        string
	Status        string
	AccountableID string
	CreatedBy     string
}

func (r Repo) InsertDeliverable(ctx context.Context, d domain.Deliverable) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO deliverables(id,title,description,due_date,status,created_at,updated_at,accountable_id,issue_id,created_by)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Title, nullable(d.Description), d.DueDate, d.Status, d.CreatedAt, d.UpdatedAt, d.AccountableID, d.IssueID, d.CreatedBy)
	return err
}

func (r Repo) GetDeliverable(ctx context.Context, id string) (domain.Deliverable, error) {
	var d domain.Deliverable
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,due_date,status,created_at,updated_at,accountable_id,issue_id,created_by FROM deliverables WHERE id=?`, id).
		Scan(&d.ID, &d.Title, &desc, &d.DueDate, &d.Status, &d.CreatedAt, &d.UpdatedAt, &d.AccountableID, &d.IssueID, &d.CreatedBy)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if desc.Valid {
		d.Description = desc.String
	}
	return d, err
}

func (r Repo) ListDeliverables(ctx context.Context, f TodoFilters) ([]domain.Deliverable, error) {
	var clauses []string
	var args []any
	if f.IssueID != "" {
		clauses = append(clauses, "issue_id=?")
		args = append(args, f.IssueID)
	}
	if f.DueStart != "" && f.DueEnd != "" {
		clauses = append(clauses, "due_date >= ?", "due_date < ?")
		args = append(args, f.DueStart, f.DueEnd)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AccountableID != "" {
		clauses = append(clauses, "accountable_id=?")
		args = append(args, f.AccountableID)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,title,description,due_date,status,created_at,updated_at,accountable_id,issue_id,created_by FROM deliverables ` + where + ` ORDER BY due_date ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		var desc sql.NullString
		if err := rows.Scan(&d.ID, &d.Title, &desc, &d.DueDate, &d.Status, &d.CreatedAt, &d.UpdatedAt, &d.AccountableID, &d.IssueID, &d.CreatedBy); err != nil {
			return nil, err
		}
		if desc.Valid {
			d.Description = desc.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDeliverable(ctx context.Context, d domain.Deliverable) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE deliverables SET title=?, description=?, due_date=?, status=?, accountable_id=?, updated_at=? WHERE id=?`,
		d.Title, nullable(d.Description), d.DueDate, d.Status, d.AccountableID, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateDeliverableStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE deliverables SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- deliverable history ---

func (r Repo) ListDeliverableHistory(ctx context.Context, deliverableID string) ([]domain.DeliverableHistory, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,deliverable_id,field_name,old_value,new_value,updated_by,created_at FROM deliverable_history WHERE deliverable_id=? ORDER BY created_at DESC, id DESC`,
		deliverableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeliverableHistory
	for rows.Next() {
		var h domain.DeliverableHistory
		var oldVal, newVal sql.NullString
		if err := rows.Scan(&h.ID, &h.DeliverableID, &h.FieldName, &oldVal, &newVal, &h.UpdatedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		if oldVal.Valid {
			h.OldValue = oldVal.String
		}
		if newVal.Valid {
			h.NewValue = newVal.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
