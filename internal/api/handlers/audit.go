package handlers

import (
	"context"
	"net/http"

	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/audit"
	"github.com/Togather-Foundation/eventbook/internal/domain/ids"
	"github.com/Togather-Foundation/eventbook/internal/validation"
)

// AuditReader queries the audit log.
type AuditReader interface {
	List(ctx context.Context, filters audit.Filters) ([]audit.Entry, int64, error)
	Get(ctx context.Context, id string) (*audit.Entry, error)
}

// AuditHandler serves /audit.
type AuditHandler struct {
	audit AuditReader
	env   string
}

func NewAuditHandler(reader AuditReader, env string) *AuditHandler {
	return &AuditHandler{audit: reader, env: env}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapAuditError)
		return
	}
	filters := audit.Filters{Method: queryValue(r, "method"), Limit: page.Limit, Offset: page.Offset}
	if raw := queryValue(r, "userId"); raw != "" {
		userID, err := ids.NormalizeID(raw)
		if err != nil {
			writeMapped(w, r, validation.Field("userId", "must be a UUID"), h.env, mapAuditError)
			return
		}
		filters.UserID = userID
	}

	items, total, err := h.audit.List(r.Context(), filters)
	if err != nil {
		writeMapped(w, r, err, h.env, mapAuditError)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewPage(pagination.Map(items, newAuditEntryResponse), total, page))
}

func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", audit.ErrNotFound, h.env)
	if !ok {
		return
	}

	entry, err := h.audit.Get(r.Context(), id)
	if err != nil {
		writeMapped(w, r, err, h.env, mapAuditError)
		return
	}
	writeJSON(w, http.StatusOK, newAuditEntryResponse(*entry))
}
