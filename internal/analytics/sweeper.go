// Package analytics runs offline batch work over finished conversations.
//
// DESIGN: Nothing here touches the live turn loop. The sweeper wakes on an
// interval, abandons idle sessions, and ships finished ones without a
// summary to the batch API. Jobs are keyed by session ID so a crashed
// sweep resubmits the same work idempotently; a failed job only means the
// next sweep picks those sessions up again.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/llm"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/utils"
)

const (
	summaryMaxTokens    = 1024
	transcriptTurnLimit = 400
)

const summarySystem = `Summarize this vehicle rental conversation in 2-3
sentences: what the renter wanted, what was found, and how it ended
(booked, abandoned, unresolved). Note anything unusual.`

// BatchSubmitter is the slice of the batch client the sweeper uses.
type BatchSubmitter interface {
	Submit(ctx context.Context, items []llm.BatchItem) (*llm.BatchJob, error)
	Poll(ctx context.Context, job *llm.BatchJob) error
	Results(ctx context.Context, job *llm.BatchJob) ([]llm.BatchResult, error)
}

// Sweeper periodically abandons idle sessions and summarizes finished ones.
type Sweeper struct {
	cfg   *config.Provider
	store session.Store
	batch BatchSubmitter

	done chan struct{}
	now  func() time.Time
}

// NewSweeper wires the sweeper. Call Start to begin sweeping.
func NewSweeper(cfg *config.Provider, store session.Store, batch BatchSubmitter) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		store: store,
		batch: batch,
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// Start runs the sweep loop until Close or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		interval := s.cfg.Snapshot().Analytics.Interval.D()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					log.Warn().Err(err).Msg("analytics: sweep failed")
				}
			}
		}
	}()
}

// Close stops the sweep loop.
func (s *Sweeper) Close() {
	close(s.done)
}

// Sweep runs one full pass: abandon idle sessions, then submit and collect
// one summarization batch for finished sessions lacking a summary.
func (s *Sweeper) Sweep(ctx context.Context) error {
	snap := s.cfg.Snapshot()

	s.abandonIdle(ctx, snap.Analytics.AbandonAfter.D())

	pending, err := s.pendingSummaries(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	return s.summarize(ctx, pending, snap.Analytics.PollInterval.D())
}

// abandonIdle flips sessions idle past the threshold to Abandoned so they
// become eligible for summarization.
func (s *Sweeper) abandonIdle(ctx context.Context, after time.Duration) {
	cutoff := s.now().Add(-after)
	idle, err := s.store.ListIdle(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("analytics: idle listing failed")
		return
	}
	for _, sess := range idle {
		if err := s.store.MarkAbandoned(ctx, sess.ID); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("analytics: abandon failed")
			continue
		}
		log.Info().Str("session_id", sess.ID).Msg("analytics: session abandoned")
	}
}

func (s *Sweeper) pendingSummaries(ctx context.Context) ([]*session.Session, error) {
	finished, err := s.store.ListByState(ctx, session.StateBooked, session.StateAbandoned)
	if err != nil {
		return nil, fmt.Errorf("list finished sessions: %w", err)
	}
	pending := finished[:0]
	for _, sess := range finished {
		if sess.Summary == "" && len(sess.Turns) > 0 {
			pending = append(pending, sess)
		}
	}
	return pending, nil
}

// summarize submits one batch and polls it to completion, writing results
// back per session.
func (s *Sweeper) summarize(ctx context.Context, sessions []*session.Session, pollInterval time.Duration) error {
	items := make([]llm.BatchItem, 0, len(sessions))
	for _, sess := range sessions {
		items = append(items, llm.BatchItem{
			CustomID:  sess.ID,
			System:    summarySystem,
			MaxTokens: summaryMaxTokens,
			Messages: []llm.Message{{
				Role:    llm.RoleUser,
				Content: []llm.ContentBlock{{Type: "text", Text: renderTranscript(sess)}},
			}},
		})
	}

	job, err := s.batch.Submit(ctx, items)
	if err != nil {
		return fmt.Errorf("submit summary batch: %w", err)
	}
	log.Info().Str("batch_id", job.ID).Int("sessions", len(items)).Msg("analytics: batch submitted")

	for !terminalBatch(job.Status) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(pollInterval):
		}
		if err := s.batch.Poll(ctx, job); err != nil {
			return fmt.Errorf("poll batch %s: %w", job.ID, err)
		}
	}

	if job.Status != llm.BatchCompleted {
		// Sessions stay summary-less and the next sweep resubmits them.
		log.Warn().Str("batch_id", job.ID).Str("status", string(job.Status)).
			Msg("analytics: batch did not complete")
		return nil
	}

	results, err := s.batch.Results(ctx, job)
	if err != nil {
		return fmt.Errorf("fetch batch %s results: %w", job.ID, err)
	}
	for _, r := range results {
		if r.Err != "" || r.Text == "" {
			log.Warn().Str("session_id", r.CustomID).Str("error", r.Err).
				Msg("analytics: summary item failed")
			continue
		}
		if err := s.store.SetSummary(ctx, r.CustomID, strings.TrimSpace(r.Text)); err != nil {
			log.Warn().Err(err).Str("session_id", r.CustomID).
				Msg("analytics: summary write-back failed")
		}
	}
	return nil
}

func terminalBatch(status llm.BatchStatus) bool {
	switch status {
	case llm.BatchCompleted, llm.BatchFailed, llm.BatchCanceled:
		return true
	}
	return false
}

// renderTranscript flattens a session into plain text for summarization.
// Tool plumbing is elided; only what was said matters here.
func renderTranscript(sess *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outcome: %s\n", sess.State)
	for i, turn := range sess.Turns {
		if i >= transcriptTurnLimit {
			b.WriteString("[transcript truncated]\n")
			break
		}
		if turn.Content == "" {
			continue
		}
		switch turn.Role {
		case session.RoleUser:
			fmt.Fprintf(&b, "Renter: %s\n", utils.Truncate(turn.Content, 2000))
		case session.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", utils.Truncate(turn.Content, 2000))
		}
	}
	return b.String()
}
