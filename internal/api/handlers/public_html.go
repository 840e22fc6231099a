package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/api/pagination"
	"github.com/Togather-Foundation/eventbook/internal/api/problem"
	"github.com/Togather-Foundation/eventbook/internal/api/render"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
)

const publicPageSize = 20

// PublicPagesHandler serves the read-only HTML site at / and /e/{id}.
type PublicPagesHandler struct {
	events EventReader
	pages  *render.Pages
	env    string
	now    func() time.Time
}

func NewPublicPagesHandler(reader EventReader, pages *render.Pages, env string) *PublicPagesHandler {
	return &PublicPagesHandler{events: reader, pages: pages, env: env, now: time.Now}
}

// Index lists upcoming published events, soonest first.
func (h *PublicPagesHandler) Index(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}
	page.Limit = publicPageSize

	items, total, err := h.events.List(r.Context(), events.Filters{
		Status:   events.StatusPublished,
		Upcoming: true,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}

	now := h.now()
	view := render.IndexPage{
		Events:     pagination.Map(items, func(e events.Event) render.EventView { return render.NewEventView(e, now) }),
		HasPrev:    page.Offset > 0,
		HasNext:    int64(page.Offset+len(items)) < total,
		PrevOffset: max(page.Offset-page.Limit, 0),
		NextOffset: page.Offset + page.Limit,
	}
	h.write(w, r, func(buf *bytes.Buffer) error { return h.pages.Index(buf, view) })
}

// Event shows one public event with its remaining seats.
func (h *PublicPagesHandler) Event(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", events.ErrNotFound, h.env)
	if !ok {
		return
	}

	event, err := h.events.Get(r.Context(), id, false)
	if err != nil {
		writeMapped(w, r, err, h.env, mapEventError)
		return
	}

	view := render.NewEventView(*event, h.now())
	h.write(w, r, func(buf *bytes.Buffer) error { return h.pages.Event(buf, view) })
}

func (h *PublicPagesHandler) write(w http.ResponseWriter, r *http.Request, fn func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		problem.ServerError(w, r, err, h.env)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
