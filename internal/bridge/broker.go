package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"intraday-trader/internal/domain"
	"intraday-trader/internal/execution"
)

type orderRequest struct {
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Quantity       int64           `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

type orderResponse struct {
	Status        string          `json:"status"` // FILLED | REJECTED
	Reason        string          `json:"reason"`
	BrokerOrderID string          `json:"broker_order_id"`
	Side          string          `json:"side"`
	Quantity      int64           `json:"filled_quantity"`
	Price         decimal.Decimal `json:"fill_price"`
	FilledAt      time.Time       `json:"filled_at"`
}

// Broker adapts the bridge order endpoint to execution.Broker.
type Broker struct {
	client *Client
}

// NewBroker creates a Broker over client.
func NewBroker(client *Client) *Broker {
	return &Broker{client: client}
}

var _ execution.Broker = (*Broker)(nil)

// Submit sends POST /orders. Transport failures and 5xx/429 become
// transient errors; other 4xx and explicit REJECTED statuses become
// rejections.
func (b *Broker) Submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	var out orderResponse
	req := b.client.http.R().
		SetHeader("Idempotency-Key", order.ClientOrderID).
		SetBody(orderRequest{
			ClientOrderID:  order.ClientOrderID,
			Symbol:         order.Symbol,
			Side:           string(order.Side),
			Quantity:       order.Quantity,
			ReferencePrice: order.ReferencePrice,
		})

	err := b.client.do(ctx, "submit order", http.MethodPost, "/orders", req, &out)
	if err != nil {
		if IsTemporary(err) {
			return domain.Fill{}, execution.Transient(err)
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return domain.Fill{}, execution.Reject(httpErr.StatusCode, httpErr.Body)
		}
		return domain.Fill{}, execution.Reject(0, err.Error())
	}

	switch strings.ToUpper(out.Status) {
	case "FILLED", "PARTIALLY_FILLED":
	case "REJECTED":
		return domain.Fill{}, execution.Reject(0, out.Reason)
	default:
		return domain.Fill{}, execution.Transient(fmt.Errorf("submit order: unexpected status %q", out.Status))
	}

	side := domain.Side(strings.ToUpper(out.Side))
	if side == "" {
		side = order.Side
	}
	return domain.Fill{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: out.BrokerOrderID,
		Symbol:        order.Symbol,
		Side:          side,
		Quantity:      out.Quantity,
		Price:         out.Price,
		FilledAt:      out.FilledAt,
	}, nil
}
