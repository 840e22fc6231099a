// Package loadtest drives realistic traffic against a running eventbook server.
// Reads browse the catalogue and public pages; writes are idempotent booking
// requests made as real participants. A stampede run checks that concurrent
// bookings never push an event past its capacity.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/testauth"
	"github.com/google/uuid"
)

// LoadProfile defines different load testing scenarios.
type LoadProfile string

const (
	ProfileLight  LoadProfile = "light"  // 5 req/s, 1 minute
	ProfileMedium LoadProfile = "medium" // 20 req/s, 2 minutes
	ProfileHeavy  LoadProfile = "heavy"  // 50 req/s, 5 minutes
	ProfileStress LoadProfile = "stress" // 100 req/s, 10 minutes
	ProfilePeak   LoadProfile = "peak"   // ticket release: long ramp, write heavy
)

// ProfileConfig defines the parameters for a load test.
type ProfileConfig struct {
	RequestsPerSecond int
	Duration          time.Duration
	RampUpTime        time.Duration
	RampDownTime      time.Duration
	ReadWriteRatio    float64 // 0.8 = 80% reads
}

// LoadProfiles contains predefined load testing scenarios.
var LoadProfiles = map[LoadProfile]ProfileConfig{
	ProfileLight: {
		RequestsPerSecond: 5,
		Duration:          1 * time.Minute,
		RampUpTime:        10 * time.Second,
		RampDownTime:      10 * time.Second,
		ReadWriteRatio:    0.8,
	},
	ProfileMedium: {
		RequestsPerSecond: 20,
		Duration:          2 * time.Minute,
		RampUpTime:        20 * time.Second,
		RampDownTime:      20 * time.Second,
		ReadWriteRatio:    0.8,
	},
	ProfileHeavy: {
		RequestsPerSecond: 50,
		Duration:          5 * time.Minute,
		RampUpTime:        30 * time.Second,
		RampDownTime:      30 * time.Second,
		ReadWriteRatio:    0.7,
	},
	ProfileStress: {
		RequestsPerSecond: 100,
		Duration:          10 * time.Minute,
		RampUpTime:        1 * time.Minute,
		RampDownTime:      1 * time.Minute,
		ReadWriteRatio:    0.6,
	},
	ProfilePeak: {
		RequestsPerSecond: 40,
		Duration:          10 * time.Minute,
		RampUpTime:        3 * time.Minute,
		RampDownTime:      3 * time.Minute,
		ReadWriteRatio:    0.5,
	},
}

// LoadTester orchestrates load testing operations.
type LoadTester struct {
	baseURL    string
	httpClient *http.Client
	stats      *Statistics
	secret     string
	debugAuth  bool

	admin        *testauth.Authenticator
	participants []*testauth.Authenticator
	eventIDs     []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLoadTester creates a load tester targeting baseURL. Tokens are signed
// with secret; an empty secret falls back to $JWT_SECRET.
func NewLoadTester(baseURL, secret string) *LoadTester {
	return &LoadTester{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stats:  newStatistics(),
		secret: secret,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithHTTPClient replaces the default client.
func (lt *LoadTester) WithHTTPClient(c *http.Client) *LoadTester {
	lt.httpClient = c
	return lt
}

// WithDebugAuth logs every 401 to stderr.
func (lt *LoadTester) WithDebugAuth(enabled bool) *LoadTester {
	lt.debugAuth = enabled
	return lt
}

// Prepare mints an admin token, discovers participants and published events,
// and mints one token per participant. Bookings need real user rows, so the
// target should be seeded first.
func (lt *LoadTester) Prepare(ctx context.Context) error {
	admin, err := testauth.NewAdminAuthenticator(lt.secret, uuid.NewString())
	if err != nil {
		return fmt.Errorf("admin token: %w", err)
	}
	lt.admin = admin

	var users listPage[idItem]
	if err := lt.getJSON(ctx, "/users?role=participant&limit=200", admin, &users); err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	minter, err := testauth.NewMinter(lt.secret, testauth.DefaultTTL)
	if err != nil {
		return err
	}
	lt.participants = lt.participants[:0]
	for _, u := range users.Items {
		token, err := minter.Token(testauth.Config{UserID: u.ID})
		if err != nil {
			return err
		}
		lt.participants = append(lt.participants, testauth.NewAuthenticator(token))
	}

	var evs listPage[idItem]
	if err := lt.getJSON(ctx, "/events?status=published&upcoming=true&limit=200", nil, &evs); err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	lt.eventIDs = lt.eventIDs[:0]
	for _, e := range evs.Items {
		lt.eventIDs = append(lt.eventIDs, e.ID)
	}

	if len(lt.eventIDs) == 0 {
		return errors.New("no published upcoming events; run `server seed` first")
	}
	return nil
}

// Statistics tracks load test metrics.
type Statistics struct {
	mu sync.Mutex

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	conflicts       int64

	responseTimes []int64 // ms
	errors        map[int]int64
	endpointStats map[string]*EndpointStats

	startTime time.Time
	endTime   time.Time
}

// EndpointStats tracks statistics for a specific endpoint.
type EndpointStats struct {
	count   int64
	total   int64
	times   []int64
	errors  int64
	minTime int64
	maxTime int64
}

func newStatistics() *Statistics {
	return &Statistics{
		errors:        make(map[int]int64),
		endpointStats: make(map[string]*EndpointStats),
		startTime:     time.Now(),
	}
}

// Total returns the number of requests issued.
func (s *Statistics) Total() int64 { return atomic.LoadInt64(&s.totalRequests) }

// Succeeded returns the number of 2xx responses.
func (s *Statistics) Succeeded() int64 { return atomic.LoadInt64(&s.successRequests) }

// Conflicts returns the number of 409 responses, which are expected for
// duplicate or sold-out bookings and are not counted as failures.
func (s *Statistics) Conflicts() int64 { return atomic.LoadInt64(&s.conflicts) }

// Failed returns the number of non-2xx, non-409 outcomes.
func (s *Statistics) Failed() int64 { return atomic.LoadInt64(&s.failedRequests) }

// Run executes a load test with the specified profile.
func (lt *LoadTester) Run(ctx context.Context, profile LoadProfile) (*Statistics, error) {
	config, exists := LoadProfiles[profile]
	if !exists {
		return nil, fmt.Errorf("unknown profile: %s", profile)
	}
	return lt.RunCustom(ctx, config)
}

// RunCustom executes a load test with a custom configuration.
func (lt *LoadTester) RunCustom(ctx context.Context, config ProfileConfig) (*Statistics, error) {
	if config.RequestsPerSecond <= 0 {
		return nil, errors.New("requests per second must be positive")
	}
	if len(lt.eventIDs) == 0 {
		return nil, errors.New("load tester is not prepared")
	}
	lt.stats = newStatistics()

	fmt.Printf("Starting load test...\n")
	fmt.Printf("  Target: %s\n", lt.baseURL)
	fmt.Printf("  Events: %d, participants: %d\n", len(lt.eventIDs), len(lt.participants))
	fmt.Printf("  RPS: %d\n", config.RequestsPerSecond)
	fmt.Printf("  Duration: %s\n", config.Duration)
	fmt.Printf("  Ramp-up: %s, Ramp-down: %s\n", config.RampUpTime, config.RampDownTime)
	fmt.Printf("  Read/Write ratio: %.0f%%/%.0f%%\n", config.ReadWriteRatio*100, (1-config.ReadWriteRatio)*100)
	fmt.Println()

	workers := max(config.RequestsPerSecond*2, 10)
	workChan := make(chan workItem, workers*2)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lt.worker(ctx, workChan)
		}()
	}

	go func() {
		defer close(workChan)
		lt.generateWork(ctx, config, workChan)
	}()

	wg.Wait()
	lt.stats.endTime = time.Now()

	return lt.stats, nil
}

// StampedeResult reports one concurrent booking burst against a single event.
type StampedeResult struct {
	EventID         string
	MaxCapacity     int
	CurrentBookings int
	Created         int64
	Rejected        int64
	Failed          int64
	Stats           *Statistics
}

// Oversold reports whether the server admitted more active bookings than seats.
func (r StampedeResult) Oversold() bool {
	return r.CurrentBookings > r.MaxCapacity
}

// Stampede has every participant book eventID at once, then reads the event
// back. An empty eventID picks the first prepared event.
func (lt *LoadTester) Stampede(ctx context.Context, eventID string) (*StampedeResult, error) {
	if len(lt.participants) == 0 {
		return nil, errors.New("no participants prepared")
	}
	if eventID == "" {
		if len(lt.eventIDs) == 0 {
			return nil, errors.New("load tester is not prepared")
		}
		eventID = lt.eventIDs[0]
	}
	lt.stats = newStatistics()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, p := range lt.participants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			lt.executeRequest(ctx, bookingRequest(eventID, p))
		}()
	}
	close(start)
	wg.Wait()
	lt.stats.endTime = time.Now()

	var ev eventSnapshot
	if err := lt.getJSON(ctx, "/events/"+eventID, lt.admin, &ev); err != nil {
		return nil, fmt.Errorf("read event back: %w", err)
	}

	return &StampedeResult{
		EventID:         eventID,
		MaxCapacity:     ev.MaxCapacity,
		CurrentBookings: ev.CurrentBookings,
		Created:         lt.stats.Succeeded(),
		Rejected:        lt.stats.Conflicts(),
		Failed:          lt.stats.Failed(),
		Stats:           lt.stats,
	}, nil
}

type workItem struct {
	method         string
	path           string
	body           interface{}
	endpoint       string
	auth           *testauth.Authenticator
	idempotencyKey string
}

func (lt *LoadTester) generateWork(ctx context.Context, config ProfileConfig, workChan chan<- workItem) {
	startTime := time.Now()

	currentRPS := 1
	if config.RampUpTime == 0 {
		currentRPS = config.RequestsPerSecond
	}

	ticker := time.NewTicker(time.Second / time.Duration(currentRPS))
	defer ticker.Stop()

	lastRPS := currentRPS

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime)

			totalDuration := config.RampUpTime + config.Duration + config.RampDownTime
			if elapsed > totalDuration {
				return
			}

			currentRPS = calculateCurrentRPS(elapsed, config)
			if currentRPS != lastRPS {
				ticker.Reset(time.Second / time.Duration(currentRPS))
				lastRPS = currentRPS
			}

			var item workItem
			if lt.float64() < config.ReadWriteRatio || len(lt.participants) == 0 {
				item = lt.generateReadRequest()
			} else {
				item = lt.generateWriteRequest()
			}
			select {
			case workChan <- item:
			case <-ctx.Done():
				return
			}
		}
	}
}

// calculateCurrentRPS determines the current RPS based on ramp-up/down timing.
func calculateCurrentRPS(elapsed time.Duration, config ProfileConfig) int {
	targetRPS := config.RequestsPerSecond

	if elapsed < config.RampUpTime {
		progress := float64(elapsed) / float64(config.RampUpTime)
		return max(int(float64(targetRPS)*progress), 1)
	}

	steadyEnd := config.RampUpTime + config.Duration
	if elapsed < steadyEnd {
		return targetRPS
	}

	rampDownProgress := elapsed - steadyEnd
	if rampDownProgress < config.RampDownTime {
		progress := float64(rampDownProgress) / float64(config.RampDownTime)
		return max(int(float64(targetRPS)*(1.0-progress)), 1)
	}

	return 1
}

func (lt *LoadTester) generateReadRequest() workItem {
	eventID := lt.pickEvent()
	operations := []workItem{
		{method: http.MethodGet, path: "/healthz", endpoint: "healthz"},
		{method: http.MethodGet, path: "/events?upcoming=true", endpoint: "list_events"},
		{method: http.MethodGet, path: "/events/" + eventID, endpoint: "get_event"},
		{method: http.MethodGet, path: "/", endpoint: "public_index"},
		{method: http.MethodGet, path: "/e/" + eventID, endpoint: "public_event"},
	}
	return operations[lt.intn(len(operations))]
}

func (lt *LoadTester) generateWriteRequest() workItem {
	p := lt.participants[lt.intn(len(lt.participants))]
	return bookingRequest(lt.pickEvent(), p)
}

func bookingRequest(eventID string, p *testauth.Authenticator) workItem {
	return workItem{
		method:         http.MethodPost,
		path:           "/bookings",
		body:           map[string]string{"eventId": eventID},
		endpoint:       "create_booking",
		auth:           p,
		idempotencyKey: uuid.NewString(),
	}
}

func (lt *LoadTester) pickEvent() string {
	return lt.eventIDs[lt.intn(len(lt.eventIDs))]
}

func (lt *LoadTester) intn(n int) int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.rng.Intn(n)
}

func (lt *LoadTester) float64() float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.rng.Float64()
}

func (lt *LoadTester) worker(ctx context.Context, workChan <-chan workItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-workChan:
			if !ok {
				return
			}
			lt.executeRequest(ctx, work)
		}
	}
}

// executeRequest performs an HTTP request and records statistics.
func (lt *LoadTester) executeRequest(ctx context.Context, work workItem) {
	atomic.AddInt64(&lt.stats.totalRequests, 1)

	start := time.Now()

	var reqBody io.Reader
	if work.body != nil {
		jsonData, err := json.Marshal(work.body)
		if err != nil {
			lt.recordError(0, work.endpoint)
			return
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, work.method, lt.baseURL+work.path, reqBody)
	if err != nil {
		lt.recordError(0, work.endpoint)
		return
	}
	if work.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if work.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", work.idempotencyKey)
	}
	work.auth.AddAuth(req)

	resp, err := lt.httpClient.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		lt.recordError(0, work.endpoint)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the timing covers the full body.
	_, _ = io.Copy(io.Discard, resp.Body)

	lt.recordResponse(resp.StatusCode, duration, work.endpoint)
	if lt.debugAuth && resp.StatusCode == http.StatusUnauthorized {
		fmt.Fprintf(os.Stderr, "AUTH_DEBUG status=401 endpoint=%s method=%s path=%s authed=%t\n",
			work.endpoint, work.method, work.path, work.auth != nil,
		)
	}
}

func (lt *LoadTester) recordResponse(statusCode int, durationMs int64, endpoint string) {
	lt.stats.mu.Lock()
	defer lt.stats.mu.Unlock()

	lt.stats.responseTimes = append(lt.stats.responseTimes, durationMs)

	switch {
	case statusCode >= 200 && statusCode < 300:
		atomic.AddInt64(&lt.stats.successRequests, 1)
	case statusCode == http.StatusConflict:
		atomic.AddInt64(&lt.stats.conflicts, 1)
	default:
		atomic.AddInt64(&lt.stats.failedRequests, 1)
		lt.stats.errors[statusCode]++
	}

	epStats := lt.stats.endpointStats[endpoint]
	if epStats == nil {
		epStats = &EndpointStats{minTime: durationMs, maxTime: durationMs}
		lt.stats.endpointStats[endpoint] = epStats
	}
	epStats.count++
	epStats.total += durationMs
	epStats.times = append(epStats.times, durationMs)
	epStats.minTime = min(epStats.minTime, durationMs)
	epStats.maxTime = max(epStats.maxTime, durationMs)

	if (statusCode < 200 || statusCode >= 300) && statusCode != http.StatusConflict {
		epStats.errors++
	}
}

func (lt *LoadTester) recordError(statusCode int, endpoint string) {
	lt.stats.mu.Lock()
	defer lt.stats.mu.Unlock()

	atomic.AddInt64(&lt.stats.failedRequests, 1)
	lt.stats.errors[statusCode]++

	if lt.stats.endpointStats[endpoint] == nil {
		lt.stats.endpointStats[endpoint] = &EndpointStats{}
	}
	lt.stats.endpointStats[endpoint].errors++
}

type listPage[T any] struct {
	Items []T `json:"items"`
}

type idItem struct {
	ID string `json:"id"`
}

type eventSnapshot struct {
	ID              string `json:"id"`
	MaxCapacity     int    `json:"maxCapacity"`
	CurrentBookings int    `json:"currentBookings"`
}

func (lt *LoadTester) getJSON(ctx context.Context, path string, a *testauth.Authenticator, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lt.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	a.AddAuth(req)

	resp, err := lt.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Report generates a summary report of the load test.
func (s *Statistics) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.endTime.Sub(s.startTime)
	totalReqs := s.totalRequests
	if totalReqs == 0 {
		return "\nNo requests were sent.\n"
	}

	var report bytes.Buffer
	report.WriteString("\n")
	report.WriteString("═══════════════════════════════════════════════════════════════\n")
	report.WriteString("                    LOAD TEST RESULTS                           \n")
	report.WriteString("═══════════════════════════════════════════════════════════════\n\n")

	report.WriteString(fmt.Sprintf("Duration:        %s\n", duration.Round(time.Second)))
	report.WriteString(fmt.Sprintf("Total Requests:  %d\n", totalReqs))
	report.WriteString(fmt.Sprintf("Successful:      %d (%.1f%%)\n", s.successRequests, percent(s.successRequests, totalReqs)))
	report.WriteString(fmt.Sprintf("Conflicts (409): %d (%.1f%%)\n", s.conflicts, percent(s.conflicts, totalReqs)))
	report.WriteString(fmt.Sprintf("Failed:          %d (%.1f%%)\n", s.failedRequests, percent(s.failedRequests, totalReqs)))
	if secs := duration.Seconds(); secs > 0 {
		report.WriteString(fmt.Sprintf("Requests/sec:    %.2f\n", float64(totalReqs)/secs))
	}
	report.WriteString("\n")

	if len(s.responseTimes) > 0 {
		report.WriteString("Response Times (ms):\n")
		report.WriteString(fmt.Sprintf("  Average:  %d\n", average(s.responseTimes)))
		report.WriteString(fmt.Sprintf("  p50:      %d\n", calculatePercentile(s.responseTimes, 0.50)))
		report.WriteString(fmt.Sprintf("  p95:      %d\n", calculatePercentile(s.responseTimes, 0.95)))
		report.WriteString(fmt.Sprintf("  p99:      %d\n\n", calculatePercentile(s.responseTimes, 0.99)))
	}

	if len(s.errors) > 0 {
		report.WriteString("Errors by Status Code:\n")
		codes := make([]int, 0, len(s.errors))
		for code := range s.errors {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			label := fmt.Sprint(code)
			if code == 0 {
				label = "transport"
			}
			report.WriteString(fmt.Sprintf("  %s: %d\n", label, s.errors[code]))
		}
		report.WriteString("\n")
	}

	if len(s.endpointStats) > 0 {
		report.WriteString("Per-Endpoint Statistics:\n")
		report.WriteString("─────────────────────────────────────────────────────────────\n")
		report.WriteString(fmt.Sprintf("%-20s %8s %8s %8s %8s %8s\n", "Endpoint", "Count", "Avg(ms)", "p95(ms)", "Min", "Max"))
		report.WriteString("─────────────────────────────────────────────────────────────\n")

		endpoints := make([]string, 0, len(s.endpointStats))
		for name := range s.endpointStats {
			endpoints = append(endpoints, name)
		}
		slices.Sort(endpoints)
		for _, endpoint := range endpoints {
			stats := s.endpointStats[endpoint]
			if stats.count == 0 {
				continue
			}
			report.WriteString(fmt.Sprintf("%-20s %8d %8d %8d %8d %8d\n",
				endpoint, stats.count, stats.total/stats.count, calculatePercentile(stats.times, 0.95), stats.minTime, stats.maxTime))
		}
		report.WriteString("\n")
	}

	report.WriteString("═══════════════════════════════════════════════════════════════\n")
	return report.String()
}

func percent(n, total int64) float64 {
	return float64(n) / float64(total) * 100
}

func average(times []int64) int64 {
	if len(times) == 0 {
		return 0
	}
	var sum int64
	for _, t := range times {
		sum += t
	}
	return sum / int64(len(times))
}

func calculatePercentile(times []int64, percentile float64) int64 {
	if len(times) == 0 {
		return 0
	}
	sorted := slices.Clone(times)
	slices.Sort(sorted)

	index := int(float64(len(sorted)) * percentile)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
