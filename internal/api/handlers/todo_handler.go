package handlers

import (
	"encoding/json"
	"net/http"

	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/engine/todos"
	"doable/internal/pkg/errors"
	"doable/internal/platform/audit"
)

type TodoHandler struct {
	service *todos.Service
	audit   *audit.Logger
}

func NewTodoHandler(service *todos.Service, auditLogger *audit.Logger) *TodoHandler {
	return &TodoHandler{service: service, audit: auditLogger}
}

type CreateTodoRequest struct {
	Title string `json:"title"`
	Notes string `json:"notes"`
}

func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	todo, err := h.service.Create(rc.OrganizationID, rc.Identity.UserID, req.Title, req.Notes)
	if err == todos.ErrInvalidInput {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "todo.created", "todo", todo.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(todo)
}

func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	list, err := h.service.List(rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if list == nil {
		list = []*todos.Todo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	todo, err := h.service.Get(rc.OrganizationID, param(r, "todoID"))
	if err == todos.ErrNotFound {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Todo not found", nil)
		return
	}
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(todo)
}

type UpdateTodoRequest struct {
	Title *string `json:"title"`
	Notes *string `json:"notes"`
	Done  *bool   `json:"done"`
}

func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req UpdateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	todo, err := h.service.Update(rc.OrganizationID, param(r, "todoID"), req.Title, req.Notes, req.Done)
	if err == todos.ErrNotFound {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Todo not found", nil)
		return
	}
	if err == todos.ErrInvalidInput {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "todo.updated", "todo", todo.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(todo)
}

// Delete removes a todo. The author can always delete their own; deleting
// someone else's takes at least the admin role. A nil membership here means
// a platform admin is acting, and they may delete anything.
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	todoID := param(r, "todoID")

	todo, err := h.service.Get(rc.OrganizationID, todoID)
	if err == todos.ErrNotFound {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Todo not found", nil)
		return
	}
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	if todo.CreatedBy != rc.Identity.UserID && rc.Membership != nil {
		if !authz.HasMinimumRole(authz.Role(rc.Membership.Role), authz.RoleAdmin) {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Only admins can delete others' todos", nil)
			return
		}
	}

	if err := h.service.Delete(rc.OrganizationID, todoID); err != nil {
		if err == todos.ErrNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Todo not found", nil)
			return
		}
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "todo.deleted", "todo", todoID, nil)

	w.WriteHeader(http.StatusNoContent)
}
