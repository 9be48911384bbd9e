// Package prompt is the boundary between the scheduling engine and
// whatever surface actually talks to the user. The engine only sequences
// prompts and inspects the typed outcome; rendering belongs to the
// adapter.
package prompt

import (
	"bufio"
	"context"
	"io"
	"strings"

	logx "tickler/pkg/logx"
)

// Outcome is the result variant of one prompt call. The scheduler
// branches on this instead of intercepting aborts dynamically.
type Outcome int

const (
	Success Outcome = iota
	Cancelled
	Skipped
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	case Skipped:
		return "skipped"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

type Result struct {
	Outcome Outcome
	// Answer carries the user's reply on Success, empty otherwise.
	Answer string
	Err    error
}

type Question struct {
	// Item is the fn of the item asking.
	Item string
	Text string
}

// Prompter asks the user questions and awaits completion.
type Prompter interface {
	// Ask poses q and blocks until the user answers, skips, dismisses,
	// or ctx ends. A ctx end maps to Cancelled.
	Ask(ctx context.Context, q Question) Result
	// Confirm poses a yes/no question (used for the disable-item check).
	Confirm(ctx context.Context, text string) (bool, error)
}

// ---- Console ----

// Console prompts on an io line stream (normally stdin). Input words
// "skip" and "dismiss" are recognized mid-prompt; EOF dismisses.
type Console struct {
	log   logx.Logger
	lines chan string
}

func NewConsole(r io.Reader, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Console{log: log, lines: make(chan string)}
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
	return c
}

func (c *Console) Ask(ctx context.Context, q Question) Result {
	c.log.Info("prompt", logx.String("item", q.Item), logx.String("text", q.Text))
	select {
	case <-ctx.Done():
		return Result{Outcome: Cancelled, Err: ctx.Err()}
	case line, ok := <-c.lines:
		if !ok {
			return Result{Outcome: Cancelled}
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "skip", "s":
			return Result{Outcome: Skipped}
		case "dismiss", "cancel", "q":
			return Result{Outcome: Cancelled}
		default:
			return Result{Outcome: Success, Answer: strings.TrimSpace(line)}
		}
	}
}

func (c *Console) Confirm(ctx context.Context, text string) (bool, error) {
	c.log.Info("confirm", logx.String("text", text+" [y/n]"))
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return false, nil
		}
		ans := strings.ToLower(strings.TrimSpace(line))
		return ans == "y" || ans == "yes", nil
	}
}
