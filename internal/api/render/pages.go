// Package render draws the server-rendered public pages.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/sanitize"
	"github.com/Togather-Foundation/eventbook/web"
)

const DefaultSiteName = "Eventbook"

// EventView is an event as the public pages show it.
type EventView struct {
	ID             string
	Title          string
	Location       string
	Description    template.HTML
	StartsAt       time.Time
	EndsAt         time.Time
	MaxCapacity    int
	RemainingSeats int
	Expired        bool
}

// NewEventView prepares e for display at now. Descriptions are sanitized
// again on the way out.
func NewEventView(e events.Event, now time.Time) EventView {
	return EventView{
		ID:             e.ID,
		Title:          e.Title,
		Location:       e.Location,
		Description:    template.HTML(sanitize.HTML(e.Description)),
		StartsAt:       e.StartsAt,
		EndsAt:         e.EndsAt,
		MaxCapacity:    e.MaxCapacity,
		RemainingSeats: e.RemainingSeats(),
		Expired:        e.IsExpired(now),
	}
}

// IndexPage is the event listing.
type IndexPage struct {
	Events     []EventView
	HasPrev    bool
	HasNext    bool
	PrevOffset int
	NextOffset int
}

type pageData struct {
	Title    string
	SiteName string
	Now      time.Time
	IndexPage
	Event *EventView
}

// Pages holds the parsed templates. It is safe for concurrent use.
type Pages struct {
	index    *template.Template
	event    *template.Template
	siteName string
	now      func() time.Time
}

func NewPages(siteName string) (*Pages, error) {
	if siteName == "" {
		siteName = DefaultSiteName
	}
	index, err := template.ParseFS(web.TemplatesFS, "templates/layout.html", "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	event, err := template.ParseFS(web.TemplatesFS, "templates/layout.html", "templates/event.html")
	if err != nil {
		return nil, fmt.Errorf("parse event template: %w", err)
	}
	return &Pages{index: index, event: event, siteName: siteName, now: time.Now}, nil
}

func (p *Pages) Index(w io.Writer, page IndexPage) error {
	return p.execute(w, p.index, pageData{Title: "Upcoming events", IndexPage: page})
}

func (p *Pages) Event(w io.Writer, view EventView) error {
	return p.execute(w, p.event, pageData{Title: view.Title, Event: &view})
}

// execute renders into a buffer first so a template error never leaves a
// half-written page.
func (p *Pages) execute(w io.Writer, tmpl *template.Template, data pageData) error {
	data.SiteName = p.siteName
	data.Now = p.now().UTC()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}
