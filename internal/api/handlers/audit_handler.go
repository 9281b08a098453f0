package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"doable/internal/api/middleware"
	"doable/internal/pkg/errors"
	"doable/internal/platform/audit"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLogger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLogger}
}

// List returns recent security events for the acting organization.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.audit.ListByOrg(rc.OrganizationID, limit)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
