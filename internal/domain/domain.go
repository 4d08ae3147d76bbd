package domain

type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Headline struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	Status      string `json:"status" enum:"pending,completed"`
}

type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	Status      string `json:"status" enum:"pending,discussed,solved"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Deliverable struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	DueDate       string `json:"due_date" format:"date-time"`
	Status        string `json:"status" enum:"pending,in_progress,completed"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
	AccountableID string `json:"accountable_id"`
	IssueID       string `json:"issue_id"`
	CreatedBy     string `json:"created_by"`
}

// DeliverableHistory is an append-only field-change record. Rows are written
// best-effort alongside deliverable updates; a failed write never rolls back
// the primary update.
type DeliverableHistory struct {
	ID            int64  `json:"id"`
	DeliverableID string `json:"deliverable_id"`
	FieldName     string `json:"field_name"`
	OldValue      string `json:"old_value"`
	NewValue      string `json:"new_value"`
	UpdatedBy     string `json:"updated_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Feedback struct {
	ID          string   `json:"id"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" enum:"bug,feature,improvement,other"`
	Priority    string   `json:"priority" enum:"low,medium,high"`
	Status      string   `json:"status" enum:"pending,in_review,implemented,rejected"`
	Tags        []string `json:"tags,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Headline statuses.
const (
	HeadlinePending   = "pending"
	HeadlineCompleted = "completed"
)

// Issue statuses.
const (
	IssuePending   = "pending"
	IssueDiscussed = "discussed"
	IssueSolved    = "solved"
)

// Deliverable statuses.
const (
	DeliverablePending    = "pending"
	DeliverableInProgress = "in_progress"
	DeliverableCompleted  = "completed"
)

// Feedback statuses.
const (
	FeedbackPending     = "pending"
	FeedbackInReview    = "in_review"
	FeedbackImplemented = "implemented"
	FeedbackRejected    = "rejected"
)

func ValidHeadlineStatus(s string) bool {
	return s == HeadlinePending || s == HeadlineCompleted
}

func ValidIssueStatus(s string) bool {
	return s == IssuePending || s == IssueDiscussed || s == IssueSolved
}

func ValidDeliverableStatus(s string) bool {
	return s == DeliverablePending || s == DeliverableInProgress || s == DeliverableCompleted
}

func ValidFeedbackStatus(s string) bool {
	return s == FeedbackPending || s == FeedbackInReview || s == FeedbackImplemented || s == FeedbackRejected
}
