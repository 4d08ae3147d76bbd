package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"idsboard/internal/engine"
	"idsboard/internal/repo"
	"idsboard/internal/week"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"issue cannot be solved: it has no deliverables"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the IDS board API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("IDS Board API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine)
	registerHeadlines(group, cfg.Engine)
	registerIssues(group, cfg.Engine)
	registerTodos(group, cfg.Engine)
	registerMyIDS(group, cfg.Engine)
	registerFeedback(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	var denied engine.AccessDeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{
			"action":   denied.Action,
			"resource": denied.Resource,
		})
	}
	var inv engine.InvalidTransitionError
	if errors.As(err, &inv) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "not found") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>IDS Board API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]UserResponse, 0, len(users))
		for _, u := range users {
			res = append(res, UserResponse{ID: u.ID, Email: u.Email})
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerHeadlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-headline",
		Method:        http.MethodPost,
		Path:          "/headlines",
		Summary:       "Create headline",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateHeadlineRequest `json:"body"`
	}) (*struct {
		Body HeadlineResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.CreateHeadline(ctx, userID, input.Body.Title, stringOrEmpty(input.Body.Description))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadlineResponse `json:"body"`
		}{Body: headlineResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-headlines",
		Method:      http.MethodGet,
		Path:        "/headlines",
		Summary:     "List headlines",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Week      string `query:"week" example:"2025-W11"`
		Status    string `query:"status" enum:",pending,completed"`
		CreatedBy string `query:"created_by"`
	}) (*struct {
		Body []HeadlineResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListHeadlines(ctx, engine.HeadlineListOptions{
			Week:      input.Week,
			Status:    input.Status,
			CreatedBy: input.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HeadlineResponse `json:"body"`
		}{Body: mapHeadlines(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-headline",
		Method:      http.MethodGet,
		Path:        "/headlines/{headline_id}",
		Summary:     "Get headline",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		HeadlineID string `path:"headline_id"`
	}) (*struct {
		Body HeadlineResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		h, err := e.GetHeadline(ctx, input.HeadlineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadlineResponse `json:"body"`
		}{Body: headlineResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-headline",
		Method:      http.MethodPatch,
		Path:        "/headlines/{headline_id}",
		Summary:     "Update headline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		HeadlineID string                `path:"headline_id"`
		Body       UpdateHeadlineRequest `json:"body"`
	}) (*struct {
		Body HeadlineResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.UpdateHeadline(ctx, userID, input.HeadlineID, engine.HeadlineUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadlineResponse `json:"body"`
		}{Body: headlineResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-headline-status",
		Method:      http.MethodPut,
		Path:        "/headlines/{headline_id}/status",
		Summary:     "Set headline status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		HeadlineID string                   `path:"headline_id"`
		Body       SetHeadlineStatusRequest `json:"body"`
	}) (*struct {
		Body HeadlineResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.SetHeadlineStatus(ctx, userID, input.HeadlineID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadlineResponse `json:"body"`
		}{Body: headlineResponse(h)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-headline",
		Method:      http.MethodDelete,
		Path:        "/headlines/{headline_id}",
		Summary:     "Delete headline",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		HeadlineID string `path:"headline_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteHeadline(ctx, userID, input.HeadlineID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerIssues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.CreateIssue(ctx, userID, input.Body.Title, stringOrEmpty(input.Body.Description))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List issues",
		Description: "Without a week filter, solved issues are excluded.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Week      string `query:"week" example:"2025-W11"`
		Status    string `query:"status" enum:",pending,discussed,solved"`
		CreatedBy string `query:"created_by"`
	}) (*struct {
		Body []IssueResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListIssues(ctx, engine.IssueListOptions{
			Week:      input.Week,
			Status:    input.Status,
			CreatedBy: input.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []IssueResponse `json:"body"`
		}{Body: mapIssues(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}",
		Summary:     "Get issue with deliverables",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body IssueDetailResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetIssueDetail(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueDetailResponse `json:"body"`
		}{Body: IssueDetailResponse{
			IssueResponse: issueResponse(detail.Issue),
			Deliverables:  mapDeliverables(detail.Deliverables),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-issue",
		Method:      http.MethodPatch,
		Path:        "/issues/{issue_id}",
		Summary:     "Update issue",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string             `path:"issue_id"`
		Body    UpdateIssueRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.UpdateIssue(ctx, userID, input.IssueID, engine.IssueUpdateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-issue-status",
		Method:      http.MethodPut,
		Path:        "/issues/{issue_id}/status",
		Summary:     "Set issue status",
		Description: "Marking an issue solved requires every deliverable to be completed.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                `path:"issue_id"`
		Body    SetIssueStatusRequest `json:"body"`
	}) (*struct {
		Body IssueResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		i, err := e.SetIssueStatus(ctx, userID, input.IssueID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IssueResponse `json:"body"`
		}{Body: issueResponse(i)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-deliverable",
		Method:        http.MethodPost,
		Path:          "/issues/{issue_id}/deliverables",
		Summary:       "Add deliverable to issue",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		IssueID string                   `path:"issue_id"`
		Body    CreateDeliverableRequest `json:"body"`
	}) (*struct {
		Body DeliverableResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDeliverable(ctx, userID, engine.DeliverableCreateOptions{
			IssueID:       input.IssueID,
			Title:         input.Body.Title,
			Description:   stringOrEmpty(input.Body.Description),
			DueDate:       input.Body.DueDate,
			AccountableID: stringOrEmpty(input.Body.AccountableID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliverableResponse `json:"body"`
		}{Body: deliverableResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-issue-deliverables",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_id}/deliverables",
		Summary:     "List deliverables of an issue",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		IssueID string `path:"issue_id"`
	}) (*struct {
		Body []DeliverableResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetIssueDetail(ctx, input.IssueID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeliverableResponse `json:"body"`
		}{Body: mapDeliverables(detail.Deliverables)}, nil
	})
}

func registerTodos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-todos",
		Method:      http.MethodGet,
		Path:        "/todos",
		Summary:     "List todos",
		Description: "Todos are deliverables bucketed by due date.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Week          string `query:"week" example:"2025-W11"`
		Status        string `query:"status" enum:",pending,in_progress,completed"`
		AccountableID string `query:"accountable_id"`
		CreatedBy     string `query:"created_by"`
	}) (*struct {
		Body []DeliverableResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTodos(ctx, engine.TodoListOptions{
			Week:          input.Week,
			Status:        input.Status,
			AccountableID: input.AccountableID,
			CreatedBy:     input.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeliverableResponse `json:"body"`
		}{Body: mapDeliverables(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-todo",
		Method:      http.MethodGet,
		Path:        "/todos/{todo_id}",
		Summary:     "Get todo",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TodoID string `path:"todo_id"`
	}) (*struct {
		Body DeliverableResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.GetDeliverable(ctx, input.TodoID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliverableResponse `json:"body"`
		}{Body: deliverableResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-todo",
		Method:      http.MethodPatch,
		Path:        "/todos/{todo_id}",
		Summary:     "Update todo",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TodoID string                   `path:"todo_id"`
		Body   UpdateDeliverableRequest `json:"body"`
	}) (*struct {
		Body DeliverableMutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateDeliverable(ctx, userID, input.TodoID, engine.DeliverableUpdateOptions{
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			DueDate:       input.Body.DueDate,
			AccountableID: input.Body.AccountableID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliverableMutationResponse `json:"body"`
		}{Body: deliverableMutationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-todo-status",
		Method:      http.MethodPut,
		Path:        "/todos/{todo_id}/status",
		Summary:     "Set todo status",
		Description: "Completing the last open deliverable auto-solves its issue.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TodoID string                      `path:"todo_id"`
		Body   SetDeliverableStatusRequest `json:"body"`
	}) (*struct {
		Body DeliverableMutationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SetDeliverableStatus(ctx, userID, input.TodoID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliverableMutationResponse `json:"body"`
		}{Body: deliverableMutationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "todo-history",
		Method:      http.MethodGet,
		Path:        "/todos/{todo_id}/history",
		Summary:     "Todo change history",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TodoID string `path:"todo_id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.DeliverableHistory(ctx, input.TodoID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryEntryResponse, 0, len(items))
		for _, h := range items {
			res = append(res, historyEntryResponse(h))
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerMyIDS(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-ids",
		Method:      http.MethodGet,
		Path:        "/my/ids",
		Summary:     "My headlines, issues and todos for a week",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Week string `query:"week" example:"2025-W11"`
	}) (*struct {
		Body MyIDSResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		my, err := e.GetMyIDS(ctx, userID, input.Week)
		if err != nil {
			return nil, handleError(err)
		}
		token := input.Week
		if token == "" {
			token = week.Current(e.Now()).String()
		}
		return &struct {
			Body MyIDSResponse `json:"body"`
		}{Body: MyIDSResponse{
			Week:      token,
			Headlines: mapHeadlines(my.Headlines),
			Issues:    mapIssues(my.Issues),
			Todos:     mapDeliverables(my.Todos),
		}}, nil
	})
}

func registerFeedback(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-feedback",
		Method:        http.MethodPost,
		Path:          "/feedback",
		Summary:       "Submit feedback",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateFeedbackRequest `json:"body"`
	}) (*struct {
		Body FeedbackResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.CreateFeedback(ctx, userID, engine.FeedbackCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Category:    input.Body.Category,
			Priority:    input.Body.Priority,
			Tags:        input.Body.Tags,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedbackResponse `json:"body"`
		}{Body: feedbackResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-feedback",
		Method:      http.MethodGet,
		Path:        "/feedback",
		Summary:     "List feedback",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []FeedbackResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListFeedback(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]FeedbackResponse, 0, len(items))
		for _, f := range items {
			res = append(res, feedbackResponse(f))
		}
		return &struct {
			Body []FeedbackResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-feedback-status",
		Method:      http.MethodPut,
		Path:        "/feedback/{feedback_id}/status",
		Summary:     "Set feedback status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		FeedbackID string                   `path:"feedback_id"`
		Body       SetFeedbackStatusRequest `json:"body"`
	}) (*struct {
		Body FeedbackResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.SetFeedbackStatus(ctx, userID, input.FeedbackID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedbackResponse `json:"body"`
		}{Body: feedbackResponse(f)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		Description:   "The plaintext key is returned once and never stored.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := e.CreateAPIKey(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
			Key:       plain,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List my API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAPIKey(ctx, userID, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		email := principal.Email
		if email == "" {
			if p, err := e.Repo.GetProfile(ctx, principal.UserID); err == nil {
				email = p.Email
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID: principal.UserID,
			Email:  email,
			Source: principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.AllowDevLogin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev login disabled", nil)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		email := strings.TrimSpace(input.Body.Email)
		if email == "" {
			email = userID + "@local"
		}
		if _, err := e.EnsureUser(ctx, userID, email); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, email)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
