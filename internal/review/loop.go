// Package review gates phase completion on an agent code review.
//
// The loop is a small state machine driven over one agent conversation:
//
//	Reviewing --APPROVED--> Approved
//	Reviewing --REJECTED--> Fixing --> Reviewing
//	Reviewing --REJECTED (limit exceeded)--> Escalated
//
// Every review and fix turn is sent on the same Thread, so the fixer sees
// exactly what the reviewer said. With k rejections before approval the loop
// sends 2k+1 turns; it never sends more than 2*MaxRejections+1.
package review

import (
	"context"
	"fmt"

	"github.com/arittr/spectacular-codex/internal/agent"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/logging"
	"github.com/arittr/spectacular-codex/internal/plan"
	"github.com/arittr/spectacular-codex/internal/prompt"
)

// State is a review loop state.
type State string

const (
	StateReviewing State = "reviewing"
	StateFixing    State = "fixing"
	StateApproved  State = "approved"
	StateEscalated State = "escalated"
)

// Request describes the phase under review.
type Request struct {
	Plan     *plan.Plan
	Phase    plan.Phase
	Workdir  string
	BaseRef  string
	Branches []string
}

// Result summarizes a finished loop.
type Result struct {
	State      State
	Approved   bool
	Rejections int
	Turns      int
}

// Loop runs reviews with an agent.
type Loop struct {
	client        agent.Client
	maxRejections int
	logger        *logging.Logger
	bus           *event.Bus
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxRejections lowers the rejection bound. Values outside
// 1..MaxRejections are ignored.
func WithMaxRejections(n int) Option {
	return func(l *Loop) {
		if n >= 1 && n <= MaxRejections {
			l.maxRejections = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithEventBus publishes a ReviewVerdictEvent for every parsed verdict.
func WithEventBus(bus *event.Bus) Option {
	return func(l *Loop) { l.bus = bus }
}

// NewLoop creates a review loop backed by client.
func NewLoop(client agent.Client, opts ...Option) *Loop {
	l := &Loop{
		client:        client,
		maxRejections: MaxRejections,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("review")
	return l
}

// Run reviews req.Phase until it is approved or escalated. A reply without a
// verdict fails immediately with ErrVerdictNotFound; exceeding the rejection
// bound fails with a *RejectionLimitError.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	log := l.logger.WithRun(req.Plan.RunID.String()).WithPhase(req.Phase.ID)
	res := Result{State: StateReviewing}

	thread, err := l.client.OpenThread(ctx, req.Workdir)
	if err != nil {
		return res, fmt.Errorf("open review thread: %w", err)
	}

	reviewPrompt, err := prompt.Review(req.Plan, req.Phase, req.BaseRef, req.Branches)
	if err != nil {
		return res, err
	}

	for {
		reply, err := thread.Send(ctx, reviewPrompt)
		res.Turns++
		if err != nil {
			return res, fmt.Errorf("review turn %d: %w", res.Turns, err)
		}

		verdict, err := ParseVerdict(reply)
		if err != nil {
			log.Error("review reply has no verdict", "turn", res.Turns)
			return res, fmt.Errorf("phase %d review: %w", req.Phase.ID, err)
		}
		if verdict == VerdictApproved {
			l.bus.Publish(event.NewReviewVerdictEvent(req.Plan.RunID.String(), req.Phase.ID, true, res.Rejections))
			res.State = StateApproved
			res.Approved = true
			log.Info("review approved", "rejections", res.Rejections, "turns", res.Turns)
			return res, nil
		}

		res.Rejections++
		l.bus.Publish(event.NewReviewVerdictEvent(req.Plan.RunID.String(), req.Phase.ID, false, res.Rejections))
		log.Warn("review rejected", "rejections", res.Rejections)
		if res.Rejections > l.maxRejections {
			res.State = StateEscalated
			return res, &RejectionLimitError{
				Limit:      l.maxRejections,
				Rejections: res.Rejections,
				Turns:      res.Turns,
				LastReview: reply,
			}
		}

		res.State = StateFixing
		fixPrompt, err := prompt.Fix(req.Phase, res.Rejections, reply)
		if err != nil {
			return res, err
		}
		// The fix reply is not inspected for a verdict.
		_, err = thread.Send(ctx, fixPrompt)
		res.Turns++
		if err != nil {
			return res, fmt.Errorf("fix turn %d: %w", res.Turns, err)
		}
		res.State = StateReviewing
	}
}
