package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/llm"
	"github.com/driveline/concierge/internal/session"
)

type fakeBatch struct {
	mu        sync.Mutex
	submitted [][]llm.BatchItem
	polls     int

	// status is what Poll resolves the job to.
	status  llm.BatchStatus
	results []llm.BatchResult
}

func (f *fakeBatch) Submit(ctx context.Context, items []llm.BatchItem) (*llm.BatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, items)
	return &llm.BatchJob{ID: "job-1", Status: llm.BatchSubmitted}, nil
}

func (f *fakeBatch) Poll(ctx context.Context, job *llm.BatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	job.Status = f.status
	return nil
}

func (f *fakeBatch) Results(ctx context.Context, job *llm.BatchJob) ([]llm.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results, nil
}

func (f *fakeBatch) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func newTestSweeper(t *testing.T, batch BatchSubmitter) (*Sweeper, session.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Analytics.PollInterval = config.Duration(time.Millisecond)
	store := session.NewMemoryStore()
	s := NewSweeper(config.NewStaticProvider(cfg), store, batch)
	t.Cleanup(s.Close)
	return s, store
}

func finishedSession(id string, state session.State) *session.Session {
	sess := session.New(id)
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: "need an SUV in Denver next weekend"})
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: "I found three options."})
	sess.State = state
	return sess
}

func TestSweep_AbandonsIdleSessions(t *testing.T) {
	batch := &fakeBatch{status: llm.BatchCompleted}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()

	idle := session.New("idle")
	idle.State = session.StateGathering
	idle.LastActivityAt = time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, store.Create(ctx, idle))

	active := session.New("active")
	active.State = session.StateGathering
	require.NoError(t, store.Create(ctx, active))

	require.NoError(t, sweeper.Sweep(ctx))

	got, err := store.Get(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, session.StateAbandoned, got.State)

	got, err = store.Get(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, session.StateGathering, got.State)

	// The abandoned session has no turns, so nothing was submitted.
	assert.Zero(t, batch.submitCount())
}

func TestSweep_SummarizesFinishedSessions(t *testing.T) {
	batch := &fakeBatch{
		status: llm.BatchCompleted,
		results: []llm.BatchResult{
			{CustomID: "booked-1", Text: "  Renter booked an SUV in Denver.  "},
		},
	}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, finishedSession("booked-1", session.StateBooked)))

	summarized := finishedSession("done-before", session.StateBooked)
	summarized.Summary = "already summarized"
	require.NoError(t, store.Create(ctx, summarized))

	live := session.New("live")
	live.AppendTurn(session.Turn{Role: session.RoleUser, Content: "hello"})
	live.State = session.StateGathering
	require.NoError(t, store.Create(ctx, live))

	require.NoError(t, sweeper.Sweep(ctx))

	require.Equal(t, 1, batch.submitCount())
	items := batch.submitted[0]
	require.Len(t, items, 1, "only the unsummarized finished session is shipped")
	assert.Equal(t, "booked-1", items[0].CustomID)
	transcript := items[0].Messages[0].Content[0].Text
	assert.Contains(t, transcript, "Outcome: booked")
	assert.Contains(t, transcript, "Renter: need an SUV")

	got, err := store.Get(ctx, "booked-1")
	require.NoError(t, err)
	assert.Equal(t, "Renter booked an SUV in Denver.", got.Summary, "summary is trimmed on write-back")

	got, err = store.Get(ctx, "done-before")
	require.NoError(t, err)
	assert.Equal(t, "already summarized", got.Summary)
}

func TestSweep_PollsUntilTerminal(t *testing.T) {
	batch := &fakeBatch{
		status:  llm.BatchCompleted,
		results: []llm.BatchResult{{CustomID: "a1", Text: "summary"}},
	}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, finishedSession("a1", session.StateAbandoned)))

	require.NoError(t, sweeper.Sweep(ctx))
	assert.GreaterOrEqual(t, batch.polls, 1)
}

func TestSweep_FailedBatchLeavesSummariesForNextSweep(t *testing.T) {
	batch := &fakeBatch{status: llm.BatchFailed}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, finishedSession("b1", session.StateBooked)))

	// A failed batch is not a sweep error; the work just stays pending.
	require.NoError(t, sweeper.Sweep(ctx))
	got, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)

	require.NoError(t, sweeper.Sweep(ctx))
	assert.Equal(t, 2, batch.submitCount(), "next sweep resubmits")
}

func TestSweep_FailedItemSkipped(t *testing.T) {
	batch := &fakeBatch{
		status: llm.BatchCompleted,
		results: []llm.BatchResult{
			{CustomID: "ok", Text: "fine"},
			{CustomID: "broken", Err: "overloaded"},
		},
	}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, finishedSession("ok", session.StateBooked)))
	require.NoError(t, store.Create(ctx, finishedSession("broken", session.StateBooked)))

	require.NoError(t, sweeper.Sweep(ctx))

	got, err := store.Get(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, "fine", got.Summary)

	got, err = store.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
}

func TestSweep_NothingPendingIsNoop(t *testing.T) {
	batch := &fakeBatch{}
	sweeper, store := newTestSweeper(t, batch)
	ctx := context.Background()

	live := session.New("live")
	live.AppendTurn(session.Turn{Role: session.RoleUser, Content: "hi"})
	require.NoError(t, store.Create(ctx, live))

	require.NoError(t, sweeper.Sweep(ctx))
	assert.Zero(t, batch.submitCount())
	assert.Zero(t, batch.polls)
}

func TestRenderTranscript_ElidesToolPlumbing(t *testing.T) {
	sess := session.New("t1")
	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: "van for moving day"})
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c1", Name: "vehicle_search"}}})
	sess.AppendTurn(session.Turn{Role: session.RoleTool, ToolResults: []session.ToolResult{{CallID: "c1"}}})
	sess.AppendTurn(session.Turn{Role: session.RoleAssistant, Content: "Two vans available."})
	sess.State = session.StateAbandoned

	got := renderTranscript(sess)
	assert.Contains(t, got, "Outcome: abandoned")
	assert.Contains(t, got, "Renter: van for moving day")
	assert.Contains(t, got, "Assistant: Two vans available.")
	assert.NotContains(t, got, "vehicle_search")
}
