package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Togather-Foundation/eventbook/internal/loadtest"
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "Base URL of the server to test")
		secret    = flag.String("secret", "", "JWT_SECRET of the target server (default: $JWT_SECRET)")
		profile   = flag.String("profile", "light", "Load profile: light, medium, heavy, stress, peak")
		rps       = flag.Int("rps", 0, "Custom requests per second (overrides profile)")
		duration  = flag.Duration("duration", 0, "Custom test duration (overrides profile)")
		readRatio = flag.Float64("read-ratio", 0, "Read/write ratio 0.0-1.0 (overrides profile)")
		noRamp    = flag.Bool("no-ramp", false, "Disable ramp-up/ramp-down (instant start/stop)")
		stampede  = flag.Bool("stampede", false, "Book one event with every participant at once and check capacity")
		eventID   = flag.String("event", "", "Event to stampede (default: first published upcoming event)")
		debugAuth = flag.Bool("debug-auth", false, "Log 401 responses to stderr")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tester := loadtest.NewLoadTester(*baseURL, *secret).WithDebugAuth(*debugAuth)
	if err := tester.Prepare(ctx); err != nil {
		fail(err)
	}

	if *stampede {
		result, err := tester.Stampede(ctx, *eventID)
		if err != nil {
			fail(err)
		}
		fmt.Println(result.Stats.Report())
		fmt.Printf("Event %s: %d/%d seats taken, %d created, %d rejected, %d failed\n",
			result.EventID, result.CurrentBookings, result.MaxCapacity, result.Created, result.Rejected, result.Failed)
		if result.Oversold() {
			fmt.Fprintln(os.Stderr, "OVERSOLD: active bookings exceed capacity")
			os.Exit(2)
		}
		return
	}

	config, ok := loadtest.LoadProfiles[loadtest.LoadProfile(*profile)]
	if !ok {
		fail(fmt.Errorf("unknown profile: %s", *profile))
	}
	if *rps > 0 {
		config.RequestsPerSecond = *rps
	}
	if *duration > 0 {
		config.Duration = *duration
	}
	if *readRatio > 0 {
		config.ReadWriteRatio = *readRatio
	}
	if *noRamp {
		config.RampUpTime = 0
		config.RampDownTime = 0
	}

	fmt.Printf("Running load profile: %s\n\n", *profile)
	stats, err := tester.RunCustom(ctx, config)
	if err != nil {
		fail(err)
	}
	fmt.Println(stats.Report())
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
