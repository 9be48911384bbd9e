package scheduler

import (
	"context"
	"fmt"
	"time"

	"tickler/internal/eventbus"
	"tickler/internal/history"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	logx "tickler/pkg/logx"
)

type verdict int

const (
	verdictContinue verdict = iota
	verdictRetryFront
	verdictAbortRun
)

// callWithDismissalCheck runs one item: first the disable check for
// heavily dismissed items, then the body itself. remaining is how many
// other items are still queued (drives the skip degradation).
func (s *Scheduler) callWithDismissalCheck(ctx context.Context, fn string, remaining int) verdict {
	it, ok := s.reg.ByID(fn)
	if !ok {
		// Unregistered ids cannot appear via BuildQueue; reaching here
		// is a structural failure worth surfacing loudly.
		s.log.Error("unregistered item in queue", logx.String("item", fn))
		return verdictContinue
	}

	if n := s.reg.Dismissals(fn); n >= s.cfg.DisableAfter {
		disable, err := s.prompter.Confirm(ctx, fmt.Sprintf("%q has been dismissed %d times. Disable it?", fn, n))
		if err != nil {
			s.log.Warn("disable confirmation failed", logx.String("item", fn), logx.Err(err))
			return verdictContinue
		}
		if disable {
			s.reg.Disable(fn)
			s.record(ctx, it, s.now(), 0, "disabled", "")
			return verdictContinue
		}
		// A fresh run of tolerance.
		s.reg.ResetDismissals(fn)
	}

	return s.runItem(ctx, it, remaining)
}

func (s *Scheduler) runItem(ctx context.Context, it registry.Item, remaining int) verdict {
	started := s.now()
	s.reg.SetLastCalled(it.FN, started)
	s.bus.Publish(eventbus.Event{Kind: eventbus.RunStarted, Time: started, Item: it.FN})
	s.log.Info("running item", logx.String("item", it.FN), logx.String("kind", it.Kind.String()))

	var res prompt.Result
	switch it.Kind {
	case registry.KindExcursion:
		res = s.runExcursion(ctx, it)
	default:
		res = it.Run(ctx, nil)
	}

	dur := s.now().Sub(started)
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	s.record(ctx, it, started, dur, res.Outcome.String(), errText)
	s.bus.Publish(eventbus.Event{Kind: eventbus.RunFinished, Time: s.now(), Item: it.FN, Outcome: res.Outcome.String()})

	switch res.Outcome {
	case prompt.Success:
		s.reg.ResetDismissals(it.FN)
		if err := s.reg.RecordSuccess(it.FN); err != nil {
			s.log.Warn("success bookkeeping failed", logx.String("item", it.FN), logx.Err(err))
		}
		s.log.Info("item succeeded", logx.String("item", it.FN), logx.Duration("took", dur))
		return verdictContinue

	case prompt.Cancelled:
		// The dismissal increment is the structured unwind target: it
		// happens on every cancel, however the body was interrupted.
		n := s.reg.AddDismissal(it.FN)
		s.log.Info("item dismissed", logx.String("item", it.FN), logx.Int("dismissals", n))
		if ctx.Err() != nil {
			return verdictAbortRun
		}
		return verdictRetryFront

	case prompt.Skipped:
		if remaining == 0 {
			// Skipping the only queued item cancels the whole run.
			return verdictAbortRun
		}
		s.log.Info("item skipped", logx.String("item", it.FN))
		return verdictContinue

	case prompt.TimedOut:
		// Abandoned without success bookkeeping; eligible next pass.
		s.log.Warn("item timed out", logx.String("item", it.FN), logx.Duration("took", dur))
		return verdictContinue
	}
	return verdictContinue
}

// runExcursion drives a body that completes indirectly: success is
// detected when every auxiliary resource the body opened has closed,
// bounded by the watchdog.
func (s *Scheduler) runExcursion(ctx context.Context, it registry.Item) prompt.Result {
	exc := registry.NewExcursion()
	res := it.Run(ctx, exc)
	if res.Outcome != prompt.Success {
		// The launch itself was cancelled or skipped.
		return res
	}
	if !exc.Opened() {
		// No auxiliary resources: completion is immediate.
		return res
	}

	watchdog := time.NewTimer(s.cfg.ExcursionWatchdog)
	defer watchdog.Stop()

	select {
	case <-exc.Done():
		return res
	case <-watchdog.C:
		return prompt.Result{Outcome: prompt.TimedOut}
	case <-ctx.Done():
		return prompt.Result{Outcome: prompt.Cancelled, Err: ctx.Err()}
	}
}

func (s *Scheduler) record(ctx context.Context, it registry.Item, at time.Time, dur time.Duration, outcome, errText string) {
	err := s.hist.RecordRun(ctx, history.Entry{
		At:         at,
		Item:       it.FN,
		Kind:       it.Kind.String(),
		Outcome:    outcome,
		Duration:   dur,
		Dismissals: s.reg.Dismissals(it.FN),
		Error:      errText,
	})
	if err != nil && err != history.ErrDisabled {
		s.log.Warn("history record failed", logx.String("item", it.FN), logx.Err(err))
	}
}
