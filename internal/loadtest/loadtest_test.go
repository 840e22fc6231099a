package loadtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret-at-least-32-characters-long"
	testEventID = "0a2f7e1c-51d8-4c2d-a1a4-3f3d3f9b0c11"
)

// fakeServer is just enough of the API to drive the load tester: it hands out
// participants and one event, and admits bookings up to capacity.
type fakeServer struct {
	mu       sync.Mutex
	capacity int
	booked   map[string]bool
	keys     map[string]bool
	users    int
}

func newFakeServer(users, capacity int) *fakeServer {
	return &fakeServer{capacity: capacity, users: users, booked: map[string]bool{}, keys: map[string]bool{}}
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		items := make([]idItem, 0, f.users)
		for i := 0; i < f.users; i++ {
			items = append(items, idItem{ID: "user-" + string(rune('a'+i))})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": []idItem{{ID: testEventID}}})
	})
	mux.HandleFunc("GET /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(eventSnapshot{ID: r.PathValue("id"), MaxCapacity: f.capacity, CurrentBookings: len(f.booked)})
	})
	mux.HandleFunc("POST /bookings", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		key := r.Header.Get("Idempotency-Key")
		if auth == "" || key == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.keys[key] = true
		if f.booked[auth] || len(f.booked) >= f.capacity {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.booked[auth] = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func preparedTester(t *testing.T, f *fakeServer) *LoadTester {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	lt := NewLoadTester(srv.URL+"/", testSecret)
	require.NoError(t, lt.Prepare(context.Background()))
	return lt
}

func TestPrepareDiscoversParticipantsAndEvents(t *testing.T) {
	lt := preparedTester(t, newFakeServer(4, 10))

	assert.Len(t, lt.participants, 4)
	assert.Equal(t, []string{testEventID}, lt.eventIDs)
	assert.NotEmpty(t, lt.admin.Header())
}

func TestPrepareFailsWithoutEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewLoadTester(srv.URL, testSecret).Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed")
}

func TestPrepareSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewLoadTester(srv.URL, testSecret).Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestStampedeNeverOversells(t *testing.T) {
	f := newFakeServer(12, 5)
	lt := preparedTester(t, f)

	result, err := lt.Stampede(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, testEventID, result.EventID)
	assert.EqualValues(t, 5, result.Created)
	assert.EqualValues(t, 7, result.Rejected)
	assert.Zero(t, result.Failed)
	assert.False(t, result.Oversold())
	assert.Len(t, f.keys, 12, "every booking carries its own idempotency key")
}

func TestStampedeResultOversold(t *testing.T) {
	assert.True(t, StampedeResult{MaxCapacity: 3, CurrentBookings: 4}.Oversold())
	assert.False(t, StampedeResult{MaxCapacity: 3, CurrentBookings: 3}.Oversold())
}

func TestRunCustomRequiresPrepare(t *testing.T) {
	_, err := NewLoadTester("http://127.0.0.1:1", testSecret).RunCustom(context.Background(), ProfileConfig{RequestsPerSecond: 5})
	assert.Error(t, err)
}

func TestRunUnknownProfile(t *testing.T) {
	_, err := NewLoadTester("http://127.0.0.1:1", testSecret).Run(context.Background(), "burst")
	assert.Error(t, err)
}

func TestRunCustomIssuesTraffic(t *testing.T) {
	lt := preparedTester(t, newFakeServer(3, 100))

	stats, err := lt.RunCustom(context.Background(), ProfileConfig{
		RequestsPerSecond: 50,
		Duration:          300 * time.Millisecond,
		ReadWriteRatio:    0.5,
	})
	require.NoError(t, err)

	assert.Positive(t, stats.Total())
	assert.Zero(t, stats.Failed())
	assert.Equal(t, stats.Total(), stats.Succeeded()+stats.Conflicts())
	assert.Contains(t, stats.Report(), "LOAD TEST RESULTS")
}

func TestCalculateCurrentRPS(t *testing.T) {
	cfg := ProfileConfig{
		RequestsPerSecond: 100,
		Duration:          10 * time.Second,
		RampUpTime:        10 * time.Second,
		RampDownTime:      10 * time.Second,
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{5 * time.Second, 50},
		{15 * time.Second, 100},
		{25 * time.Second, 50},
		{40 * time.Second, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateCurrentRPS(tt.elapsed, cfg), "elapsed %s", tt.elapsed)
	}
}

func TestCalculatePercentile(t *testing.T) {
	times := []int64{50, 10, 40, 20, 30}

	assert.EqualValues(t, 30, calculatePercentile(times, 0.5))
	assert.EqualValues(t, 50, calculatePercentile(times, 0.99))
	assert.EqualValues(t, 0, calculatePercentile(nil, 0.5))
	assert.Equal(t, []int64{50, 10, 40, 20, 30}, times, "input must not be reordered")
}

func TestReportWithoutRequests(t *testing.T) {
	assert.Contains(t, newStatistics().Report(), "No requests")
}
