// Package notify forwards settled vault transactions to chat channels
// (Telegram, Discord). Operators choose which event kinds are delivered.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/payout"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Message is a rendered notification.
type Message struct {
	Title string
	Body  string
	// Failed marks messages about failed transactions; senders may style them.
	Failed bool
}

// Notifier renders transaction events and fans them out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only event kinds listed in events are
// delivered; an empty list delivers everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// NotifyTx delivers ev if its kind passes the filter.
func (n *Notifier) NotifyTx(ctx context.Context, ev domain.TxEvent) error {
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", ev.Kind))
		return nil
	}
	return n.dispatch(ctx, Render(ev))
}

// Run delivers events from the bus until ctx ends.
func (n *Notifier) Run(ctx context.Context, bus domain.EventBus) error {
	ch, err := bus.Subscribe(ctx, domain.ChannelTransactions)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	for payload := range ch {
		var ev domain.TxEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			n.logger.WarnContext(ctx, "bad event payload", slog.String("error", err.Error()))
			continue
		}
		// Delivery failures are logged in dispatch and never stop the loop.
		_ = n.NotifyTx(ctx, ev)
	}
	return ctx.Err()
}

// dispatch sends msg to every sender; one failing sender does not block
// the rest.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Render turns a transaction event into a message.
func Render(ev domain.TxEvent) Message {
	tx := ev.Transaction
	var b strings.Builder
	fmt.Fprintf(&b, "Asset: %s\n", tx.AssetID)
	fmt.Fprintf(&b, "Amount: %s", tx.AmountIn.String())
	if !tx.AmountOut.IsZero() {
		fmt.Fprintf(&b, "\nPayout: %s", payout.FormatPayout(tx.AmountOut))
	}
	if tx.TxHash != "" {
		fmt.Fprintf(&b, "\nTx: %s", tx.TxHash)
	}

	switch ev.Kind {
	case "tx_completed":
		return Message{Title: fmt.Sprintf("%s completed", tx.Type), Body: b.String()}
	case "tx_failed":
		if tx.FailureReason != "" {
			fmt.Fprintf(&b, "\nReason: %s", tx.FailureReason)
		}
		return Message{Title: fmt.Sprintf("%s failed", tx.Type), Body: b.String(), Failed: true}
	default:
		return Message{Title: fmt.Sprintf("%s %s", tx.Type, strings.TrimPrefix(ev.Kind, "tx_")), Body: b.String()}
	}
}
