package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Writer appends deliverable field-change records. Writes are best-effort:
// callers treat a returned error as a warning, never as a reason to undo the
// primary update.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Change describes one field mutation on a deliverable.
type Change struct {
	DeliverableID string
	FieldName     string
	OldValue      string
	NewValue      string
}

func (w Writer) Record(ctx context.Context, updatedBy string, changes ...Change) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	for _, c := range changes {
		_, err := w.DB.ExecContext(ctx,
			`INSERT INTO deliverable_history(deliverable_id,field_name,old_value,new_value,updated_by,created_at) VALUES (?,?,?,?,?,?)`,
			c.DeliverableID, c.FieldName, nullable(c.OldValue), nullable(c.NewValue), updatedBy, ts)
		if err != nil {
			return fmt.Errorf("record %s change: %w", c.FieldName, err)
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
