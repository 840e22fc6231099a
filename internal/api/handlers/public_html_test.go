package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Togather-Foundation/eventbook/internal/api/render"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestPublicPages(t *testing.T) (*PublicPagesHandler, *MockEventService) {
	t.Helper()
	pages, err := render.NewPages(render.DefaultSiteName)
	require.NoError(t, err)
	svc := new(MockEventService)
	return NewPublicPagesHandler(svc, pages, "test"), svc
}

func TestPublicIndex(t *testing.T) {
	handler, svc := newTestPublicPages(t)
	event := sampleEvent()
	event.Description = `<p>Talks</p><script>alert(1)</script>`
	svc.On("List", mock.Anything, events.Filters{
		Status:   events.StatusPublished,
		Upcoming: true,
		Limit:    publicPageSize,
		Offset:   20,
	}).Return([]events.Event{*event}, int64(45), nil)

	w := httptest.NewRecorder()
	handler.Index(w, httptest.NewRequest(http.MethodGet, "/?offset=20", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `<a href="/e/`+testEventID+`">Go meetup</a>`)
	assert.Contains(t, body, "18 of 30 seats left")
	assert.Contains(t, body, `href="/?offset=0"`)
	assert.Contains(t, body, `href="/?offset=40"`)
	assert.NotContains(t, body, "<script>")
	svc.AssertExpectations(t)
}

func TestPublicEvent(t *testing.T) {
	handler, svc := newTestPublicPages(t)
	full := sampleEvent()
	full.CurrentBookings = full.MaxCapacity
	svc.On("Get", mock.Anything, testEventID, false).Return(full, nil)

	w := httptest.NewRecorder()
	handler.Event(w, withPath(httptest.NewRequest(http.MethodGet, "/e/"+testEventID, nil), "id", testEventID))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>Go meetup</h1>")
	assert.Contains(t, w.Body.String(), "Fully booked")
}

func TestPublicEvent_NotFound(t *testing.T) {
	handler, svc := newTestPublicPages(t)
	svc.On("Get", mock.Anything, testEventID, false).Return(nil, events.ErrNotFound)

	w := httptest.NewRecorder()
	handler.Event(w, withPath(httptest.NewRequest(http.MethodGet, "/e/"+testEventID, nil), "id", testEventID))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	handler.Event(w, withPath(httptest.NewRequest(http.MethodGet, "/e/garbage", nil), "id", "garbage"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
