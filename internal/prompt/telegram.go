package prompt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "tickler/pkg/logx"
)

// TelegramConfig configures the Telegram prompt surface.
type TelegramConfig struct {
	Token string
	// OwnerID is the single chat allowed to answer prompts.
	OwnerID     int64
	PollTimeout time.Duration
}

// Telegram delivers prompts to a single owner chat. Answers arrive as
// plain replies; "skip" and "dismiss" ride on inline buttons so they are
// recognizable mid-prompt.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot

	mu      sync.Mutex
	replies chan string

	runOnce sync.Once
	stopped chan struct{}
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.OwnerID == 0 {
		return nil, errors.New("telegram owner chat id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Telegram{cfg: cfg, log: log, bot: b, stopped: make(chan struct{})}

	b.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat.ID != t.cfg.OwnerID {
			return nil
		}
		t.deliver(m.Text)
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Sender == nil || cb.Sender.ID != t.cfg.OwnerID {
			return nil
		}
		t.deliver(strings.TrimSpace(strings.TrimPrefix(cb.Data, "\f")))
		return c.Respond(&tele.CallbackResponse{})
	})
	return t, nil
}

// Start begins long polling; it returns immediately.
func (t *Telegram) Start() {
	t.runOnce.Do(func() {
		go func() {
			t.bot.Start()
			close(t.stopped)
		}()
	})
}

func (t *Telegram) Stop() {
	t.bot.Stop()
}

func (t *Telegram) deliver(text string) {
	t.mu.Lock()
	ch := t.replies
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- text:
	default:
		// No prompt waiting; stray message.
	}
}

// arm installs a fresh reply channel for one prompt.
func (t *Telegram) arm() chan string {
	ch := make(chan string, 1)
	t.mu.Lock()
	t.replies = ch
	t.mu.Unlock()
	return ch
}

func (t *Telegram) disarm() {
	t.mu.Lock()
	t.replies = nil
	t.mu.Unlock()
}

func (t *Telegram) Ask(ctx context.Context, q Question) Result {
	ch := t.arm()
	defer t.disarm()

	rm := &tele.ReplyMarkup{}
	btnSkip := rm.Data("Skip", "skip")
	btnDismiss := rm.Data("Dismiss", "dismiss")
	rm.Inline(rm.Row(btnSkip, btnDismiss))

	owner := &tele.Chat{ID: t.cfg.OwnerID}
	if _, err := t.bot.Send(owner, q.Text, rm); err != nil {
		return Result{Outcome: Cancelled, Err: err}
	}

	select {
	case <-ctx.Done():
		return Result{Outcome: Cancelled, Err: ctx.Err()}
	case ans := <-ch:
		switch strings.ToLower(strings.TrimSpace(ans)) {
		case "skip":
			return Result{Outcome: Skipped}
		case "dismiss", "cancel":
			return Result{Outcome: Cancelled}
		default:
			return Result{Outcome: Success, Answer: strings.TrimSpace(ans)}
		}
	}
}

func (t *Telegram) Confirm(ctx context.Context, text string) (bool, error) {
	ch := t.arm()
	defer t.disarm()

	rm := &tele.ReplyMarkup{}
	btnYes := rm.Data("Yes", "yes")
	btnNo := rm.Data("No", "no")
	rm.Inline(rm.Row(btnYes, btnNo))

	owner := &tele.Chat{ID: t.cfg.OwnerID}
	if _, err := t.bot.Send(owner, text, rm); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ans := <-ch:
		a := strings.ToLower(strings.TrimSpace(ans))
		return a == "yes" || a == "y", nil
	}
}
