package review

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arittr/spectacular-codex/internal/agent/agenttest"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/plan"
)

const (
	approved = "Looks good.\nVERDICT: APPROVED"
	rejected = "Missing tests in api.go.\nVERDICT: REJECTED"
	fixed    = "Added the tests."
)

func testRequest() Request {
	p := &plan.Plan{
		RunID: "a1b2c3",
		Title: "API",
		Phases: []plan.Phase{{
			ID:       1,
			Name:     "Endpoints",
			Strategy: plan.StrategyParallel,
			Tasks:    []plan.Task{{ID: "1-1", Name: "List endpoint"}},
		}},
	}
	return Request{Plan: p, Phase: p.Phases[0], Workdir: "/wt/main", BaseRef: "abc123"}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    Verdict
		wantErr bool
	}{
		{"approved", "VERDICT: APPROVED", VerdictApproved, false},
		{"rejected", "notes\nVERDICT: REJECTED\n", VerdictRejected, false},
		{"case insensitive", "verdict:approved", VerdictApproved, false},
		{"mixed case", "Verdict:   Rejected", VerdictRejected, false},
		{"first wins", "VERDICT: REJECTED then VERDICT: APPROVED", VerdictRejected, false},
		{"missing", "I think it is fine", "", true},
		{"unknown value", "VERDICT: MAYBE", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.reply)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrVerdictNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoop_ApprovedFirstTurn(t *testing.T) {
	client := agenttest.NewClient(approved)
	res, err := NewLoop(client).Run(context.Background(), testRequest())

	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, StateApproved, res.State)
	assert.Equal(t, 0, res.Rejections)
	assert.Equal(t, 1, res.Turns)
}

func TestLoop_TurnCountForRejections(t *testing.T) {
	for k := 0; k <= MaxRejections; k++ {
		var script []string
		for range k {
			script = append(script, rejected, fixed)
		}
		script = append(script, approved)

		client := agenttest.NewClient(script...)
		res, err := NewLoop(client).Run(context.Background(), testRequest())

		require.NoError(t, err, "k=%d", k)
		assert.True(t, res.Approved)
		assert.Equal(t, k, res.Rejections)
		assert.Equal(t, 2*k+1, res.Turns)
		assert.Len(t, client.Turns(), 2*k+1)
		assert.Equal(t, 1, client.Threads(), "one thread for the whole loop")
	}
}

func TestLoop_EscalatesAfterFourthRejection(t *testing.T) {
	client := agenttest.NewClient(
		rejected, fixed,
		rejected, fixed,
		rejected, fixed,
		rejected,
		approved, // never reached
	)
	res, err := NewLoop(client).Run(context.Background(), testRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 rejections")
	assert.ErrorIs(t, err, ErrEscalated)

	var limitErr *RejectionLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 4, limitErr.Rejections)

	assert.Equal(t, StateEscalated, res.State)
	assert.Equal(t, 7, res.Turns)
	assert.Len(t, client.Turns(), 7, "4 reviews + 3 fixes")
	assert.LessOrEqual(t, res.Turns, 2*MaxRejections+1)
}

func TestLoop_MissingVerdictIsFatal(t *testing.T) {
	client := agenttest.NewClient(rejected, fixed, "I am not sure.", approved)
	res, err := NewLoop(client).Run(context.Background(), testRequest())

	assert.ErrorIs(t, err, ErrVerdictNotFound)
	assert.NotErrorIs(t, err, ErrEscalated)
	assert.False(t, res.Approved)
	assert.Equal(t, 3, res.Turns, "no retry on a parse failure")
}

func TestLoop_FixPromptCarriesReview(t *testing.T) {
	client := agenttest.NewClient(rejected, fixed, approved)
	_, err := NewLoop(client).Run(context.Background(), testRequest())
	require.NoError(t, err)

	turns := client.Turns()
	require.Len(t, turns, 3)
	assert.Contains(t, turns[0], "VERDICT: APPROVED")
	assert.Contains(t, turns[1], "Missing tests in api.go.")
	assert.True(t, strings.HasPrefix(turns[2], "# Code Review"), "re-review after the fix")
}

func TestLoop_FixReplyIsNotParsed(t *testing.T) {
	client := agenttest.NewClient(rejected, "VERDICT: APPROVED (just kidding, this is a fix)", approved)
	res, err := NewLoop(client).Run(context.Background(), testRequest())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, 1, res.Rejections)
}

func TestLoop_WithMaxRejections(t *testing.T) {
	client := agenttest.NewClient(rejected, fixed, rejected)
	res, err := NewLoop(client, WithMaxRejections(1)).Run(context.Background(), testRequest())

	assert.ErrorContains(t, err, "exceeded 1 rejections")
	assert.Equal(t, 3, res.Turns)

	// Out-of-range values keep the default bound.
	l := NewLoop(client, WithMaxRejections(10))
	assert.Equal(t, MaxRejections, l.maxRejections)
}

func TestLoop_AgentFailure(t *testing.T) {
	client := agenttest.NewClient() // no replies
	_, err := NewLoop(client).Run(context.Background(), testRequest())
	assert.ErrorIs(t, err, agenttest.ErrScriptExhausted)
}

func TestLoop_PublishesVerdicts(t *testing.T) {
	bus := event.NewBus(nil)
	var verdicts []event.ReviewVerdictEvent
	bus.Subscribe(event.TypeReviewVerdict, func(e event.Event) {
		verdicts = append(verdicts, e.(event.ReviewVerdictEvent))
	})

	client := agenttest.NewClient(rejected, fixed, approved)
	_, err := NewLoop(client, WithEventBus(bus)).Run(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, verdicts, 2)
	assert.False(t, verdicts[0].Approved)
	assert.Equal(t, 1, verdicts[0].Rejections)
	assert.True(t, verdicts[1].Approved)
}
