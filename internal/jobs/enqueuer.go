package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Inserter is the part of the River client the enqueuer uses.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer queues booking notifications and account emails. It satisfies the
// notifier interfaces of the bookings and events services and the mail queue
// of the users service.
type Enqueuer struct {
	client Inserter
	policy *RetryPolicy
}

func NewEnqueuer(client Inserter, policy *RetryPolicy) *Enqueuer {
	if policy == nil {
		policy = NewRetryPolicy(0)
	}
	return &Enqueuer{client: client, policy: policy}
}

func (e *Enqueuer) BookingStatusChanged(ctx context.Context, bookingID, status string) error {
	if e == nil || e.client == nil {
		return nil
	}
	opts := e.policy.InsertOpts(JobKindBookingNotification)
	// One notification per booking and status.
	opts.UniqueOpts = river.UniqueOpts{ByArgs: true}
	if _, err := e.client.Insert(ctx, BookingNotificationArgs{BookingID: bookingID, Status: status}, opts); err != nil {
		return fmt.Errorf("enqueue booking notification: %w", err)
	}
	return nil
}

func (e *Enqueuer) QueueVerification(ctx context.Context, to, name, link string) error {
	return e.queueAccountEmail(ctx, AccountEmailArgs{Purpose: AccountEmailVerification, To: to, Name: name, Link: link})
}

func (e *Enqueuer) QueuePasswordReset(ctx context.Context, to, name, link string) error {
	return e.queueAccountEmail(ctx, AccountEmailArgs{Purpose: AccountEmailPasswordReset, To: to, Name: name, Link: link})
}

func (e *Enqueuer) queueAccountEmail(ctx context.Context, args AccountEmailArgs) error {
	if e == nil || e.client == nil {
		return nil
	}
	if _, err := e.client.Insert(ctx, args, e.policy.InsertOpts(JobKindAccountEmail)); err != nil {
		return fmt.Errorf("enqueue %s email: %w", args.Purpose, err)
	}
	return nil
}
