package dhan

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Order statuses as reported by Dhan.
const (
	StatusTransit    = "TRANSIT"
	StatusPending    = "PENDING"
	StatusRejected   = "REJECTED"
	StatusCancelled  = "CANCELLED"
	StatusPartTraded = "PART_TRADED"
	StatusTraded     = "TRADED"
	StatusExpired    = "EXPIRED"
)

// NormalizeStatus maps the feed's "Part_Traded"/"Traded" spellings to the REST constants.
func NormalizeStatus(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
}

// OrderRequest places a regular order.
type OrderRequest struct {
	DhanClientID    string  `json:"dhanClientId"`
	CorrelationID   string  `json:"correlationId,omitempty"`
	TransactionType string  `json:"transactionType"` // BUY, SELL
	ExchangeSegment string  `json:"exchangeSegment"` // NSE_FNO, NSE_EQ
	ProductType     string  `json:"productType"`     // INTRADAY, CNC, MARGIN
	OrderType       string  `json:"orderType"`       // LIMIT, MARKET
	Validity        string  `json:"validity"`        // DAY, IOC
	SecurityID      string  `json:"securityId"`
	Quantity        int64   `json:"quantity"`
	Price           float64 `json:"price"`
}

// OrderAck is the placement or cancellation response.
type OrderAck struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// OrderDetail is the order-book view of one order.
type OrderDetail struct {
	OrderID            string  `json:"orderId"`
	CorrelationID      string  `json:"correlationId"`
	OrderStatus        string  `json:"orderStatus"`
	TransactionType    string  `json:"transactionType"`
	Quantity           int64   `json:"quantity"`
	FilledQty          int64   `json:"filledQty"`
	Price              float64 `json:"price"`
	AverageTradedPrice float64 `json:"averageTradedPrice"`
	OmsErrorCode       string  `json:"omsErrorCode"`
	OmsErrorDesc       string  `json:"omsErrorDescription"`
}

// PlaceOrder submits an order. DhanClientID defaults to the client's id.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if req.DhanClientID == "" {
		req.DhanClientID = c.cfg.ClientID
	}
	var out OrderAck
	if err := c.call(ctx, http.MethodPost, "/v2/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*OrderAck, error) {
	var out OrderAck
	if err := c.call(ctx, http.MethodDelete, "/v2/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns an order's current state.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderDetail, error) {
	var out OrderDetail
	if err := c.call(ctx, http.MethodGet, "/v2/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
