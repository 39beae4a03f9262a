package bridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

type sizingRequest struct {
	Symbol           string          `json:"symbol"`
	AvailableCapital decimal.Decimal `json:"available_capital"`
	Price            decimal.Decimal `json:"price"`
}

type sizingResponse struct {
	Quantity int64 `json:"quantity"`
}

// SizeFor implements sizing.Advisor via POST /sizing.
func (c *Client) SizeFor(ctx context.Context, symbol string, availableCapital, price decimal.Decimal) (int64, error) {
	var out sizingResponse
	req := c.http.R().SetBody(sizingRequest{
		Symbol:           symbol,
		AvailableCapital: availableCapital,
		Price:            price,
	})
	if err := c.do(ctx, "size position", http.MethodPost, "/sizing", req, &out); err != nil {
		return 0, err
	}
	if out.Quantity < 0 {
		return 0, fmt.Errorf("size position: negative quantity %d", out.Quantity)
	}
	return out.Quantity, nil
}
