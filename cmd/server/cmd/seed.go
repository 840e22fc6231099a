package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Togather-Foundation/eventbook/internal/config"
	"github.com/Togather-Foundation/eventbook/internal/domain/bookings"
	"github.com/Togather-Foundation/eventbook/internal/domain/events"
	"github.com/Togather-Foundation/eventbook/internal/domain/users"
	"github.com/Togather-Foundation/eventbook/internal/storage/postgres"
	"github.com/Togather-Foundation/eventbook/internal/tickets"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const seedConcurrency = 4

var (
	seedParticipants int
	seedPassword     string
)

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, events and bookings",
		Long: `Seed a development database with an admin, a set of participants, a handful
of events and bookings in every state. Running it twice is safe: existing
users, events and bookings are reused.

The admin comes from ADMIN_EMAIL / ADMIN_PASSWORD when set, otherwise
admin@eventbook.dev with the --password value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd)
		},
	}
	cmd.Flags().IntVar(&seedParticipants, "participants", 8, "number of demo participants")
	cmd.Flags().StringVar(&seedPassword, "password", "eventbook-demo", "password for every demo account")
	return cmd
}

type seedEvent struct {
	title       string
	location    string
	description string
	capacity    int
	startsIn    time.Duration
	length      time.Duration
	status      events.Status
}

var demoEvents = []seedEvent{
	{"Go meetup: profiling in production", "Lyon, La Cordée", "<p>Two talks on pprof and continuous profiling.</p>", 40, 72 * time.Hour, 3 * time.Hour, events.StatusPublished},
	{"Intro to PostgreSQL indexing", "Online", "<p>B-tree, GIN and BRIN in practice.</p>", 100, 5 * 24 * time.Hour, 2 * time.Hour, events.StatusPublished},
	{"Chef's table: seasonal tasting", "Annecy, Le Clos", "<p>Eight courses, very few seats.</p>", 3, 9 * 24 * time.Hour, 4 * time.Hour, events.StatusPublished},
	{"Weekend hackathon", "Grenoble, Coworking Nord", "<p>Bring a team or find one on site.</p>", 60, 14 * 24 * time.Hour, 48 * time.Hour, events.StatusPublished},
	{"Community board meeting", "Lyon, Maison des associations", "<p>Annual review and elections.</p>", 25, 21 * 24 * time.Hour, 2 * time.Hour, events.StatusPublished},
	{"Spring conference (call for papers)", "Paris, Cité des sciences", "<p>Programme to be announced.</p>", 400, 90 * 24 * time.Hour, 16 * time.Hour, events.StatusDraft},
}

// seedPlan is the demo data set, built without touching the database.
type seedPlan struct {
	Participants []users.CreateUserParams
	Events       []events.CreateEventParams
}

func demoPlan(now time.Time, participants int, password string) seedPlan {
	firstNames := []string{"Ana", "Bilal", "Chloé", "Dmitri", "Elif", "Farah", "Gaspard", "Hana", "Ines", "Jonas"}
	lastNames := []string{"Lopez", "Haddad", "Martin", "Petrov", "Yilmaz", "Nasser", "Roux", "Sato", "Costa", "Berg"}

	plan := seedPlan{}
	for i := 0; i < participants; i++ {
		plan.Participants = append(plan.Participants, users.CreateUserParams{
			Email:     fmt.Sprintf("participant%02d@eventbook.dev", i+1),
			Password:  password,
			FirstName: firstNames[i%len(firstNames)],
			LastName:  lastNames[i%len(lastNames)],
			Role:      "participant",
		})
	}

	base := now.UTC().Truncate(time.Hour)
	for _, e := range demoEvents {
		starts := base.Add(e.startsIn)
		plan.Events = append(plan.Events, events.CreateEventParams{
			Title:       e.title,
			Description: e.description,
			Location:    e.location,
			StartsAt:    starts,
			EndsAt:      starts.Add(e.length),
			MaxCapacity: e.capacity,
			Status:      string(e.status),
		})
	}
	return plan
}

// wantsBooking spreads bookings so that most participants book most events.
func wantsBooking(participant, event int) bool {
	return (participant+event)%3 != 0
}

// seededStatus picks the state a seeded booking is moved to after creation.
// Only pairs accepted by wantsBooking reach it, so n%6 is never 0 or 3.
func seededStatus(participant, event int) bookings.Status {
	switch (participant + event) % 6 {
	case 1:
		return bookings.StatusCanceled
	case 2:
		return bookings.StatusConfirmed
	case 5:
		return bookings.StatusRefused
	default:
		return bookings.StatusPending
	}
}

func runSeed(ctx context.Context, cmd *cobra.Command) error {
	if seedParticipants < 0 {
		return fmt.Errorf("--participants must not be negative")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, seedConcurrency+1)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init: %w", err)
	}
	signer, err := tickets.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	userSvc := users.NewService(repo.Users(), nil, cfg.Server.BaseURL, logger)
	eventSvc := events.NewService(repo.Events())
	eventAdmin := events.NewAdminService(repo.Events(), nil, logger)
	bookingSvc := bookings.NewService(repo.Bookings(), nil, signer, logger)

	adminEmail, adminPassword := cfg.AdminBootstrap.Email, cfg.AdminBootstrap.Password
	if adminEmail == "" || adminPassword == "" {
		adminEmail, adminPassword = "admin@eventbook.dev", seedPassword
	}
	if _, err := userSvc.EnsureAdmin(ctx, adminEmail, adminPassword, "Admin", ""); err != nil {
		return err
	}
	admin, err := findUser(ctx, userSvc, adminEmail)
	if err != nil {
		return err
	}

	plan := demoPlan(time.Now(), seedParticipants, seedPassword)

	participantIDs := make([]string, 0, len(plan.Participants))
	for _, params := range plan.Participants {
		id, err := ensureUser(ctx, userSvc, params)
		if err != nil {
			return err
		}
		participantIDs = append(participantIDs, id)
	}

	eventIDs := make([]string, 0, len(plan.Events))
	for _, params := range plan.Events {
		id, err := ensureEvent(ctx, eventSvc, eventAdmin, params, admin.ID)
		if err != nil {
			return err
		}
		if params.Status == string(events.StatusPublished) {
			eventIDs = append(eventIDs, id)
		}
	}

	manager := bookings.Actor{UserID: admin.ID, CanManage: true}
	var created, confirmed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)
	for p, userID := range participantIDs {
		for e, eventID := range eventIDs {
			if !wantsBooking(p, e) {
				continue
			}
			g.Go(func() error {
				booking, err := bookingSvc.Create(gctx, userID, bookings.CreateBookingParams{EventID: eventID})
				switch {
				case errors.Is(err, bookings.ErrDuplicateBooking), errors.Is(err, events.ErrEventFull):
					skipped.Add(1)
					return nil
				case err != nil:
					return fmt.Errorf("book event %s for %s: %w", eventID, userID, err)
				}
				created.Add(1)

				switch seededStatus(p, e) {
				case bookings.StatusConfirmed:
					_, err = bookingSvc.Confirm(gctx, booking.ID, manager)
					if err == nil {
						confirmed.Add(1)
					}
				case bookings.StatusRefused:
					_, err = bookingSvc.Refuse(gctx, booking.ID, "Seats reserved for speakers", manager)
				case bookings.StatusCanceled:
					_, err = bookingSvc.Cancel(gctx, booking.ID, "Plans changed", bookings.Actor{UserID: userID})
				}
				if err != nil {
					return fmt.Errorf("settle booking %s: %w", booking.ID, err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().
		Int("participants", len(participantIDs)).
		Int("published_events", len(eventIDs)).
		Int64("bookings_created", created.Load()).
		Int64("bookings_confirmed", confirmed.Load()).
		Int64("bookings_skipped", skipped.Load()).
		Msg("seed complete")
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d participants, %d events and %d bookings. Admin: %s\n",
		len(participantIDs), len(plan.Events), created.Load(), adminEmail)
	return nil
}

func findUser(ctx context.Context, svc *users.Service, email string) (*users.User, error) {
	found, _, err := svc.ListUsers(ctx, users.ListFilters{Query: email, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", email, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("look up %s: %w", email, users.ErrUserNotFound)
	}
	return &found[0], nil
}

func ensureUser(ctx context.Context, svc *users.Service, params users.CreateUserParams) (string, error) {
	user, err := svc.CreateUser(ctx, params)
	if errors.Is(err, users.ErrEmailTaken) {
		existing, err := findUser(ctx, svc, params.Email)
		if err != nil {
			return "", err
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create user %s: %w", params.Email, err)
	}
	return user.ID, nil
}

func ensureEvent(ctx context.Context, reader *events.Service, admin *events.AdminService, params events.CreateEventParams, createdBy string) (string, error) {
	event, err := admin.CreateEvent(ctx, params, createdBy)
	if errors.Is(err, events.ErrTitleTaken) {
		found, _, err := reader.List(ctx, events.Filters{Query: params.Title, IncludeHidden: true, Limit: 1})
		if err != nil {
			return "", fmt.Errorf("look up event %q: %w", params.Title, err)
		}
		if len(found) == 0 {
			return "", fmt.Errorf("look up event %q: %w", params.Title, events.ErrNotFound)
		}
		return found[0].ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create event %q: %w", params.Title, err)
	}
	return event.ID, nil
}
