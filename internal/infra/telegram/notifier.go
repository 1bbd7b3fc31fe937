package telegram

import (
	"context"
	"fmt"

	"tranche_investor/internal/domain/notification"
	domainTelegram "tranche_investor/internal/domain/telegram"

	"golang.org/x/time/rate"
)

// TradeNotifier is the notification sink that messages the admin about every trade outcome.
type TradeNotifier struct {
	client  domainTelegram.Client
	adminID int64
	limiter *rate.Limiter
}

// NewTradeNotifier paces sends to stay under Telegram's per-chat limit of one message a second.
func NewTradeNotifier(client domainTelegram.Client, adminID int64) *TradeNotifier {
	return &TradeNotifier{
		client:  client,
		adminID: adminID,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

func (n *TradeNotifier) Name() string { return "telegram" }

func (n *TradeNotifier) Deliver(ctx context.Context, event notification.TradeEvent) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram send not allowed before deadline: %w", err)
	}
	if err := n.client.SendMessage(n.adminID, FormatTradeEvent(event), nil); err != nil {
		return fmt.Errorf("failed to send trade update to admin %d: %w", n.adminID, err)
	}
	return nil
}
