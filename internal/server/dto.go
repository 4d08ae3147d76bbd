package server

import (
	"idsboard/internal/domain"
	"idsboard/internal/engine"
)

// Request payloads

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty" format:"email"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateHeadlineRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type UpdateHeadlineRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type SetHeadlineStatusRequest struct {
	Status string `json:"status" enum:"pending,completed"`
}

type CreateIssueRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type UpdateIssueRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type SetIssueStatusRequest struct {
	Status string `json:"status" enum:"pending,discussed,solved"`
}

type CreateDeliverableRequest struct {
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	DueDate       string  `json:"due_date" format:"date-time"`
	AccountableID *string `json:"accountable_id,omitempty"`
}

type UpdateDeliverableRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	AccountableID *string `json:"accountable_id,omitempty"`
}

type SetDeliverableStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed"`
}

type CreateFeedbackRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type SetFeedbackStatusRequest struct {
	Status string `json:"status" enum:"pending,in_review,implemented,rejected"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source"`
}

type HeadlineResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	Status      string `json:"status" enum:"pending,completed"`
}

type IssueResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	Status      string `json:"status" enum:"pending,discussed,solved"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type IssueDetailResponse struct {
	IssueResponse
	Deliverables []DeliverableResponse `json:"deliverables"`
}

type DeliverableResponse struct {
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

// DeliverableMutationResponse reports a mutation plus cascade and audit
// outcomes. HistoryWarning is set when the change applied but the audit
// row could not be written.
type DeliverableMutationResponse struct {
	DeliverableResponse
	IssueSolved    bool   `json:"issue_solved,omitempty"`
	HistoryWarning string `json:"history_warning,omitempty"`
	CascadeWarning string `json:"cascade_warning,omitempty"`
}

type HistoryEntryResponse struct {
	ID            int64  `json:"id"`
	DeliverableID string `json:"deliverable_id"`
	FieldName     string `json:"field_name"`
	OldValue      string `json:"old_value,omitempty"`
	NewValue      string `json:"new_value,omitempty"`
	UpdatedBy     string `json:"updated_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type MyIDSResponse struct {
	Week      string                `json:"week"`
	Headlines []HeadlineResponse    `json:"headlines"`
	Issues    []IssueResponse       `json:"issues"`
	Todos     []DeliverableResponse `json:"todos"`
}

type FeedbackResponse struct {
	ID          string   `json:"id"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Status      string   `json:"status" enum:"pending,in_review,implemented,rejected"`
	Tags        []string `json:"tags"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Key       string `json:"key,omitempty"`
}

// mappers

func headlineResponse(h domain.Headline) HeadlineResponse {
	return HeadlineResponse{
		ID:          h.ID,
		Title:       h.Title,
		Description: h.Description,
		CreatedBy:   h.CreatedBy,
		CreatedAt:   h.CreatedAt,
		Status:      h.Status,
	}
}

func mapHeadlines(items []domain.Headline) []HeadlineResponse {
	res := make([]HeadlineResponse, 0, len(items))
	for _, h := range items {
		res = append(res, headlineResponse(h))
	}
	return res
}

func issueResponse(i domain.Issue) IssueResponse {
	return IssueResponse{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		CreatedBy:   i.CreatedBy,
		Status:      i.Status,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

func mapIssues(items []domain.Issue) []IssueResponse {
	res := make([]IssueResponse, 0, len(items))
	for _, i := range items {
		res = append(res, issueResponse(i))
	}
	return res
}

func deliverableResponse(d domain.Deliverable) DeliverableResponse {
	return DeliverableResponse{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		DueDate:       d.DueDate,
		Status:        d.Status,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		AccountableID: d.AccountableID,
		IssueID:       d.IssueID,
		CreatedBy:     d.CreatedBy,
	}
}

func mapDeliverables(items []domain.Deliverable) []DeliverableResponse {
	res := make([]DeliverableResponse, 0, len(items))
	for _, d := range items {
		res = append(res, deliverableResponse(d))
	}
	return res
}

func deliverableMutationResponse(res engine.DeliverableResult) DeliverableMutationResponse {
	out := DeliverableMutationResponse{
		DeliverableResponse: deliverableResponse(res.Deliverable),
		IssueSolved:         res.IssueSolved,
	}
	if res.HistoryErr != nil {
		out.HistoryWarning = "change applied but history could not be recorded"
	}
	if res.CascadeErr != nil {
		out.CascadeWarning = "deliverable updated but the issue auto-solve check failed"
	}
	return out
}

func historyEntryResponse(h domain.DeliverableHistory) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:            h.ID,
		DeliverableID: h.DeliverableID,
		FieldName:     h.FieldName,
		OldValue:      h.OldValue,
		NewValue:      h.NewValue,
		UpdatedBy:     h.UpdatedBy,
		CreatedAt:     h.CreatedAt,
	}
}

func feedbackResponse(f domain.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ID:          f.ID,
		CreatedAt:   f.CreatedAt,
		UserID:      f.UserID,
		Title:       f.Title,
		Description: f.Description,
		Category:    f.Category,
		Priority:    f.Priority,
		Status:      f.Status,
		Tags:        nonNilSlice(f.Tags),
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
