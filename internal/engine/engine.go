package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"idsboard/internal/config"
	"idsboard/internal/domain"
	"idsboard/internal/history"
	"idsboard/internal/repo"
	"idsboard/internal/week"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History history.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// requireOwner enforces record ownership for mutating operations.
func requireOwner(userID, ownerID, action, resource string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if userID != ownerID {
		return AccessDeniedError{Action: action, Resource: resource}
	}
	return nil
}

// weekRange resolves a week token into RFC3339 bucket bounds. An empty
// token resolves to empty bounds, which disables the filter.
func weekRange(token string) (start, end string, err error) {
	if token == "" {
		return "", "", nil
	}
	from, to, err := week.RangeOf(token)
	if err != nil {
		return "", "", err
	}
	return from.Format(time.RFC3339), to.Format(time.RFC3339), nil
}

// --- users ---

// EnsureUser registers a profile on first sight and returns it.
func (e Engine) EnsureUser(ctx context.Context, id, email string) (domain.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Profile{}, ErrUnauthenticated
	}
	if err := e.Repo.EnsureProfile(ctx, id, email); err != nil {
		return domain.Profile{}, err
	}
	return e.Repo.GetProfile(ctx, id)
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.Profile, error) {
	return e.Repo.ListProfiles(ctx)
}

// --- headlines ---

func (e Engine) CreateHeadline(ctx context.Context, userID, title, description string) (domain.Headline, error) {
	if userID == "" {
		return domain.Headline{}, ErrUnauthenticated
	}
	if strings.TrimSpace(title) == "" {
		return domain.Headline{}, errors.New("title is required")
	}
	h := domain.Headline{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		CreatedBy:   userID,
		CreatedAt:   e.nowRFC3339(),
		Status:      domain.HeadlinePending,
	}
	if err := e.Repo.InsertHeadline(ctx, h); err != nil {
		return domain.Headline{}, err
	}
	return h, nil
}

type HeadlineListOptions struct {
	Week      string
	Status    string
	CreatedBy string
}

func (e Engine) ListHeadlines(ctx context.Context, opts HeadlineListOptions) ([]domain.Headline, error) {
	start, end, err := weekRange(opts.Week)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.ValidHeadlineStatus(opts.Status) {
		return nil, fmt.Errorf("invalid headline status %q", opts.Status)
	}
	return e.Repo.ListHeadlines(ctx, repo.HeadlineFilters{
		WeekStart: start,
		WeekEnd:   end,
		Status:    opts.Status,
		CreatedBy: opts.CreatedBy,
	})
}

func (e Engine) GetHeadline(ctx context.Context, id string) (domain.Headline, error) {
	return e.Repo.GetHeadline(ctx, id)
}

type HeadlineUpdateOptions struct {
	Title       *string
	Description *string
}

func (e Engine) UpdateHeadline(ctx context.Context, userID, id string, opts HeadlineUpdateOptions) (domain.Headline, error) {
	h, err := e.Repo.GetHeadline(ctx, id)
	if err != nil {
		return domain.Headline{}, err
	}
	if err := requireOwner(userID, h.CreatedBy, "update", "headline"); err != nil {
		return domain.Headline{}, err
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Headline{}, errors.New("title is required")
		}
		h.Title = *opts.Title
	}
	if opts.Description != nil {
		h.Description = *opts.Description
	}
	if err := e.Repo.UpdateHeadline(ctx, h); err != nil {
		return domain.Headline{}, err
	}
	return h, nil
}

func (e Engine) SetHeadlineStatus(ctx context.Context, userID, id, status string) (domain.Headline, error) {
	if !domain.ValidHeadlineStatus(status) {
		return domain.Headline{}, fmt.Errorf("invalid headline status %q", status)
	}
	h, err := e.Repo.GetHeadline(ctx, id)
	if err != nil {
		return domain.Headline{}, err
	}
	if err := requireOwner(userID, h.CreatedBy, "update", "headline"); err != nil {
		return domain.Headline{}, err
	}
	if err := e.Repo.UpdateHeadlineStatus(ctx, id, status); err != nil {
		return domain.Headline{}, err
	}
	h.Status = status
	return h, nil
}

func (e Engine) DeleteHeadline(ctx context.Context, userID, id string) error {
	h, err := e.Repo.GetHeadline(ctx, id)
	if err != nil {
		return err
	}
	if err := requireOwner(userID, h.CreatedBy, "delete", "headline"); err != nil {
		return err
	}
	return e.Repo.DeleteHeadline(ctx, id)
}

// --- issues ---

func (e Engine) CreateIssue(ctx context.Context, userID, title, description string) (domain.Issue, error) {
	if userID == "" {
		return domain.Issue{}, ErrUnauthenticated
	}
	if strings.TrimSpace(title) == "" {
		return domain.Issue{}, errors.New("title is required")
	}
	now := e.nowRFC3339()
	i := domain.Issue{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		CreatedBy:   userID,
		Status:      domain.IssuePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertIssue(ctx, i); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

type IssueListOptions struct {
	Week      string
	Status    string
	CreatedBy string
}

// ListIssues returns issues for the given week. Without a week filter
// solved issues are excluded, so the default view shows open work.
func (e Engine) ListIssues(ctx context.Context, opts IssueListOptions) ([]domain.Issue, error) {
	start, end, err := weekRange(opts.Week)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.ValidIssueStatus(opts.Status) {
		return nil, fmt.Errorf("invalid issue status %q", opts.Status)
	}
	return e.Repo.ListIssues(ctx, repo.IssueFilters{
		WeekStart:     start,
		WeekEnd:       end,
		Status:        opts.Status,
		CreatedBy:     opts.CreatedBy,
		ExcludeSolved: opts.Week == "" && opts.Status == "",
	})
}

func (e Engine) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	return e.Repo.GetIssue(ctx, id)
}

type IssueUpdateOptions struct {
	Title       *string
	Description *string
}

func (e Engine) UpdateIssue(ctx context.Context, userID, id string, opts IssueUpdateOptions) (domain.Issue, error) {
	i, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := requireOwner(userID, i.CreatedBy, "update", "issue"); err != nil {
		return domain.Issue{}, err
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Issue{}, errors.New("title is required")
		}
		i.Title = *opts.Title
	}
	if opts.Description != nil {
		i.Description = *opts.Description
	}
	i.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateIssueContent(ctx, i.ID, i.Title, i.Description, i.UpdatedAt); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

// SetIssueStatus changes an issue status. Marking an issue solved is
// guarded: the issue must have at least one deliverable and every
// deliverable must be completed.
func (e Engine) SetIssueStatus(ctx context.Context, userID, id, status string) (domain.Issue, error) {
	if !domain.ValidIssueStatus(status) {
		return domain.Issue{}, fmt.Errorf("invalid issue status %q", status)
	}
	i, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := requireOwner(userID, i.CreatedBy, "update", "issue"); err != nil {
		return domain.Issue{}, err
	}
	if status == domain.IssueSolved {
		ds, err := e.Repo.ListDeliverables(ctx, repo.TodoFilters{IssueID: id})
		if err != nil {
			return domain.Issue{}, err
		}
		if len(ds) == 0 {
			return domain.Issue{}, InvalidTransitionError{Reason: "issue cannot be solved: it has no deliverables"}
		}
		for _, d := range ds {
			if d.Status != domain.DeliverableCompleted {
				return domain.Issue{}, InvalidTransitionError{Reason: "issue cannot be solved: not all deliverables are completed"}
			}
		}
	}
	i.Status = status
	i.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateIssueStatus(ctx, i.ID, i.Status, i.UpdatedAt); err != nil {
		return domain.Issue{}, err
	}
	return i, nil
}

// IssueDetail bundles an issue with its deliverables.
type IssueDetail struct {
	Issue        domain.Issue
	Deliverables []domain.Deliverable
}

func (e Engine) GetIssueDetail(ctx context.Context, id string) (IssueDetail, error) {
	i, err := e.Repo.GetIssue(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	ds, err := e.Repo.ListDeliverables(ctx, repo.TodoFilters{IssueID: id})
	if err != nil {
		return IssueDetail{}, err
	}
	return IssueDetail{Issue: i, Deliverables: ds}, nil
}

// --- deliverables ---

type DeliverableCreateOptions struct {
	IssueID       string
	Title         string
	Description   string
	DueDate       string
	AccountableID string
}

func (e Engine) CreateDeliverable(ctx context.Context, userID string, opts DeliverableCreateOptions) (domain.Deliverable, error) {
	if userID == "" {
		return domain.Deliverable{}, ErrUnauthenticated
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Deliverable{}, errors.New("title is required")
	}
	if opts.DueDate == "" {
		return domain.Deliverable{}, errors.New("due_date is required")
	}
	if _, err := time.Parse(time.RFC3339, opts.DueDate); err != nil {
		return domain.Deliverable{}, fmt.Errorf("invalid due_date: %w", err)
	}
	if _, err := e.Repo.GetIssue(ctx, opts.IssueID); err != nil {
		return domain.Deliverable{}, err
	}
	accountable := opts.AccountableID
	if accountable == "" {
		accountable = userID
	}
	if _, err := e.Repo.GetProfile(ctx, accountable); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Deliverable{}, fmt.Errorf("accountable user %s not found", accountable)
		}
		return domain.Deliverable{}, err
	}
	now := e.nowRFC3339()
	d := domain.Deliverable{
		ID:            uuid.NewString(),
		Title:         opts.Title,
		Description:   opts.Description,
		DueDate:       opts.DueDate,
		Status:        domain.DeliverablePending,
		CreatedAt:     now,
		UpdatedAt:     now,
		AccountableID: accountable,
		IssueID:       opts.IssueID,
		CreatedBy:     userID,
	}
	if err := e.Repo.InsertDeliverable(ctx, d); err != nil {
		return domain.Deliverable{}, err
	}
	return d, nil
}

type TodoListOptions struct {
	Week          string
	Status        string
	AccountableID string
	CreatedBy     string
}

// ListTodos returns deliverables bucketed by due date.
func (e Engine) ListTodos(ctx context.Context, opts TodoListOptions) ([]domain.Deliverable, error) {
	start, end, err := weekRange(opts.Week)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" && !domain.ValidDeliverableStatus(opts.Status) {
		return nil, fmt.Errorf("invalid deliverable status %q", opts.Status)
	}
	return e.Repo.ListDeliverables(ctx, repo.TodoFilters{
		DueStart:      start,
		DueEnd:        end,
		Status:        opts.Status,
		AccountableID: opts.AccountableID,
		CreatedBy:     opts.CreatedBy,
	})
}

func (e Engine) GetDeliverable(ctx context.Context, id string) (domain.Deliverable, error) {
	return e.Repo.GetDeliverable(ctx, id)
}

// canEditDeliverable governs field edits: the accountable user or the
// creator. Status changes are stricter, see SetDeliverableStatus.
func canEditDeliverable(userID string, d domain.Deliverable) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if userID != d.AccountableID && userID != d.CreatedBy {
		return AccessDeniedError{Action: "update", Resource: "deliverable"}
	}
	return nil
}

type DeliverableUpdateOptions struct {
	Title         *string
	Description   *string
	DueDate       *string
	AccountableID *string
}

// DeliverableResult reports a deliverable mutation. HistoryErr is set
// when audit recording failed; the mutation itself still succeeded.
type DeliverableResult struct {
	Deliverable domain.Deliverable
	IssueSolved bool
	HistoryErr  error
	CascadeErr  error
}

func (e Engine) UpdateDeliverable(ctx context.Context, userID, id string, opts DeliverableUpdateOptions) (DeliverableResult, error) {
	d, err := e.Repo.GetDeliverable(ctx, id)
	if err != nil {
		return DeliverableResult{}, err
	}
	if err := canEditDeliverable(userID, d); err != nil {
		return DeliverableResult{}, err
	}
	var changes []history.Change
	if opts.Title != nil && *opts.Title != d.Title {
		if strings.TrimSpace(*opts.Title) == "" {
			return DeliverableResult{}, errors.New("title is required")
		}
		changes = append(changes, history.Change{DeliverableID: d.ID, FieldName: "title", OldValue: d.Title, NewValue: *opts.Title})
		d.Title = *opts.Title
	}
	if opts.Description != nil && *opts.Description != d.Description {
		changes = append(changes, history.Change{DeliverableID: d.ID, FieldName: "description", OldValue: d.Description, NewValue: *opts.Description})
		d.Description = *opts.Description
	}
	if opts.DueDate != nil && *opts.DueDate != d.DueDate {
		if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
			return DeliverableResult{}, fmt.Errorf("invalid due_date: %w", err)
		}
		changes = append(changes, history.Change{DeliverableID: d.ID, FieldName: "due_date", OldValue: d.DueDate, NewValue: *opts.DueDate})
		d.DueDate = *opts.DueDate
	}
	if opts.AccountableID != nil && *opts.AccountableID != d.AccountableID {
		if _, err := e.Repo.GetProfile(ctx, *opts.AccountableID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return DeliverableResult{}, fmt.Errorf("accountable user %s not found", *opts.AccountableID)
			}
			return DeliverableResult{}, err
		}
		changes = append(changes, history.Change{DeliverableID: d.ID, FieldName: "accountable_id", OldValue: d.AccountableID, NewValue: *opts.AccountableID})
		d.AccountableID = *opts.AccountableID
	}
	d.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateDeliverable(ctx, d); err != nil {
		return DeliverableResult{}, err
	}
	res := DeliverableResult{Deliverable: d}
	if len(changes) > 0 {
		res.HistoryErr = e.History.Record(ctx, userID, changes...)
	}
	return res, nil
}

// SetDeliverableStatus changes a deliverable status. Completing the
// last open deliverable of an issue auto-solves the issue, regardless
// of who owns it.
func (e Engine) SetDeliverableStatus(ctx context.Context, userID, id, status string) (DeliverableResult, error) {
	if !domain.ValidDeliverableStatus(status) {
		return DeliverableResult{}, fmt.Errorf("invalid deliverable status %q", status)
	}
	d, err := e.Repo.GetDeliverable(ctx, id)
	if err != nil {
		return DeliverableResult{}, err
	}
	// Status changes are reserved for the accountable user; the creator
	// may edit fields but not advance the status.
	if userID == "" {
		return DeliverableResult{}, ErrUnauthenticated
	}
	if userID != d.AccountableID {
		return DeliverableResult{}, AccessDeniedError{Action: "change the status of", Resource: "deliverable"}
	}
	old := d.Status
	d.Status = status
	d.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateDeliverableStatus(ctx, d.ID, d.Status, d.UpdatedAt); err != nil {
		return DeliverableResult{}, err
	}
	res := DeliverableResult{Deliverable: d}
	if old != status {
		res.HistoryErr = e.History.Record(ctx, userID, history.Change{
			DeliverableID: d.ID, FieldName: "status", OldValue: old, NewValue: status,
		})
	}
	if status == domain.DeliverableCompleted {
		solved, err := e.maybeSolveIssue(ctx, d.IssueID)
		res.IssueSolved = solved
		res.CascadeErr = err
	}
	return res, nil
}

// maybeSolveIssue marks the issue solved when every deliverable is
// completed. Ownership is not checked here on purpose: the cascade is
// a system action, not a user edit.
func (e Engine) maybeSolveIssue(ctx context.Context, issueID string) (bool, error) {
	i, err := e.Repo.GetIssue(ctx, issueID)
	if err != nil {
		return false, err
	}
	if i.Status == domain.IssueSolved {
		return false, nil
	}
	ds, err := e.Repo.ListDeliverables(ctx, repo.TodoFilters{IssueID: issueID})
	if err != nil {
		return false, err
	}
	if len(ds) == 0 {
		return false, nil
	}
	for _, d := range ds {
		if d.Status != domain.DeliverableCompleted {
			return false, nil
		}
	}
	if err := e.Repo.UpdateIssueStatus(ctx, issueID, domain.IssueSolved, e.nowRFC3339()); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) DeliverableHistory(ctx context.Context, id string) ([]domain.DeliverableHistory, error) {
	if _, err := e.Repo.GetDeliverable(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListDeliverableHistory(ctx, id)
}

// --- my ids ---

// MyIDS aggregates the caller's records for a week: authored headlines
// and issues, plus todos they are accountable for.
type MyIDS struct {
	Headlines []domain.Headline
	Issues    []domain.Issue
	Todos     []domain.Deliverable
}

func (e Engine) GetMyIDS(ctx context.Context, userID, weekToken string) (MyIDS, error) {
	if userID == "" {
		return MyIDS{}, ErrUnauthenticated
	}
	if weekToken == "" {
		weekToken = week.Current(e.now()).String()
	}
	start, end, err := weekRange(weekToken)
	if err != nil {
		return MyIDS{}, err
	}
	var out MyIDS
	out.Headlines, err = e.Repo.ListHeadlines(ctx, repo.HeadlineFilters{WeekStart: start, WeekEnd: end, CreatedBy: userID})
	if err != nil {
		return MyIDS{}, err
	}
	out.Issues, err = e.Repo.ListIssues(ctx, repo.IssueFilters{WeekStart: start, WeekEnd: end, CreatedBy: userID})
	if err != nil {
		return MyIDS{}, err
	}
	out.Todos, err = e.Repo.ListDeliverables(ctx, repo.TodoFilters{DueStart: start, DueEnd: end, AccountableID: userID})
	if err != nil {
		return MyIDS{}, err
	}
	return out, nil
}

// --- feedback ---

type FeedbackCreateOptions struct {
	Title       string
	Description string
	Category    string
	Priority    string
	Tags        []string
}

func (e Engine) CreateFeedback(ctx context.Context, userID string, opts FeedbackCreateOptions) (domain.Feedback, error) {
	if userID == "" {
		return domain.Feedback{}, ErrUnauthenticated
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Feedback{}, errors.New("title is required")
	}
	if opts.Category == "" {
		opts.Category = "other"
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if cats := e.Config.Feedback.Categories; len(cats) > 0 && !slices.Contains(cats, opts.Category) {
		return domain.Feedback{}, fmt.Errorf("invalid feedback category %q, expected one of %s", opts.Category, strings.Join(cats, ", "))
	}
	if pris := e.Config.Feedback.Priorities; len(pris) > 0 && !slices.Contains(pris, opts.Priority) {
		return domain.Feedback{}, fmt.Errorf("invalid feedback priority %q, expected one of %s", opts.Priority, strings.Join(pris, ", "))
	}
	f := domain.Feedback{
		ID:          uuid.NewString(),
		CreatedAt:   e.nowRFC3339(),
		UserID:      userID,
		Title:       opts.Title,
		Description: opts.Description,
		Category:    opts.Category,
		Priority:    opts.Priority,
		Status:      domain.FeedbackPending,
		Tags:        opts.Tags,
	}
	if err := e.Repo.InsertFeedback(ctx, f); err != nil {
		return domain.Feedback{}, err
	}
	return f, nil
}

func (e Engine) ListFeedback(ctx context.Context, userID string) ([]domain.Feedback, error) {
	return e.Repo.ListFeedback(ctx, userID)
}

func (e Engine) SetFeedbackStatus(ctx context.Context, userID, id, status string) (domain.Feedback, error) {
	if !domain.ValidFeedbackStatus(status) {
		return domain.Feedback{}, fmt.Errorf("invalid feedback status %q", status)
	}
	f, err := e.Repo.GetFeedback(ctx, id)
	if err != nil {
		return domain.Feedback{}, err
	}
	if err := requireOwner(userID, f.UserID, "update", "feedback"); err != nil {
		return domain.Feedback{}, err
	}
	if err := e.Repo.UpdateFeedbackStatus(ctx, id, status); err != nil {
		return domain.Feedback{}, err
	}
	f.Status = status
	return f, nil
}

// --- api keys ---

// CreateAPIKey mints an API key for the user and returns the plaintext
// once. Only the hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if userID == "" {
		return domain.APIKey{}, "", ErrUnauthenticated
	}
	plain := "ids_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return e.Repo.ListAPIKeys(ctx, userID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	keys, err := e.Repo.ListAPIKeys(ctx, userID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			return e.Repo.DeleteAPIKey(ctx, id)
		}
	}
	return repo.ErrNotFound
}
