package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckTimeout int
	healthcheckURL     string
	healthcheckReady   bool
)

func newHealthcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling /healthz (or /readyz with --ready).

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server is healthy, non-zero otherwise.

Exit codes:
  0 - Server is healthy
  1 - Server is unhealthy, unreachable or answered with an invalid body`,
		Args: cobra.NoArgs,
		RunE: runHealthcheck,
	}
	cmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds")
	cmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/healthz)")
	cmd.Flags().BoolVar(&healthcheckReady, "ready", false, "probe /readyz, which also checks the database and migrations")
	return cmd
}

// HealthResponse covers both the /healthz and /readyz bodies.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheckResult is the outcome of one probe.
type HealthCheckResult struct {
	URL       string
	IsHealthy bool
	Status    string
	LatencyMs int64
	Error     string
}

// healthyStatuses are the body statuses that count as healthy.
var healthyStatuses = map[string]bool{
	"ok":       true,
	"healthy":  true,
	"degraded": true,
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	url := determineHealthCheckURL()
	result := performHealthCheck(url)
	if !result.IsHealthy {
		if result.Error != "" {
			return fmt.Errorf("health check failed: %s", result.Error)
		}
		return fmt.Errorf("unhealthy: status=%s", result.Status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%dms)\n", url, result.Status, result.LatencyMs)
	return nil
}

func determineHealthCheckURL() string {
	if healthcheckURL != "" {
		return healthcheckURL
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	path := "/healthz"
	if healthcheckReady {
		path = "/readyz"
	}
	return fmt.Sprintf("http://localhost:%s%s", port, path)
}

func performHealthCheck(url string) HealthCheckResult {
	result := HealthCheckResult{URL: url}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(healthcheckTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		result.Error = fmt.Sprintf("invalid response body: %v", err)
		return result
	}
	result.Status = body.Status
	result.IsHealthy = resp.StatusCode == http.StatusOK && healthyStatuses[body.Status]
	return result
}
