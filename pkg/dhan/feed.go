package dhan

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// OrderUpdate is one "order_alert" message from the order-update feed.
type OrderUpdate struct {
	OrderNo           string  `json:"OrderNo"`
	CorrelationID     string  `json:"CorrelationId"`
	Status            string  `json:"Status"`
	TxnType           string  `json:"TxnType"`
	Quantity          int64   `json:"Quantity"`
	TradedQty         int64   `json:"TradedQty"`
	Price             float64 `json:"Price"`
	TradedPrice       float64 `json:"TradedPrice"`
	AvgTradedPrice    float64 `json:"AvgTradedPrice"`
	ReasonDescription string  `json:"ReasonDescription"`
}

type feedMessage struct {
	Type string          `json:"Type"`
	Data json.RawMessage `json:"Data"`
}

type loginRequest struct {
	LoginReq struct {
		MsgCode  int    `json:"MsgCode"`
		ClientID string `json:"ClientId"`
		Token    string `json:"Token"`
	} `json:"LoginReq"`
	UserType string `json:"UserType"`
}

// OrderFeed streams order updates over the Dhan websocket and reconnects
// with capped exponential delay until its context ends.
type OrderFeed struct {
	client *Client
	dialer *websocket.Dialer

	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration

	// OnState is told about connects and disconnects.
	OnState func(connected bool)
}

func NewOrderFeed(c *Client) *OrderFeed {
	return &OrderFeed{
		client:       c,
		dialer:       websocket.DefaultDialer,
		MinBackoff:   time.Second,
		MaxBackoff:   30 * time.Second,
		PingInterval: 10 * time.Second,
	}
}

// Run delivers updates to out until ctx is cancelled.
func (f *OrderFeed) Run(ctx context.Context, out chan<- OrderUpdate) {
	b := &backoff.Backoff{Min: f.MinBackoff, Max: f.MaxBackoff, Factor: 2, Jitter: true}
	for {
		err := f.session(ctx, b, out)
		if ctx.Err() != nil {
			return
		}
		delay := b.Duration()
		log.Printf("[dhan-feed] disconnected: %v, reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *OrderFeed) session(ctx context.Context, b *backoff.Backoff, out chan<- OrderUpdate) error {
	token, err := f.client.Token(ctx)
	if err != nil {
		return err
	}
	conn, resp, err := f.dialer.DialContext(ctx, f.client.cfg.OrderFeedURL, http.Header{})
	if err != nil {
		if resp != nil {
			log.Printf("[dhan-feed] dial failed, status: %s", resp.Status)
		}
		return err
	}
	defer conn.Close()

	var login loginRequest
	login.LoginReq.MsgCode = 42
	login.LoginReq.ClientID = f.client.cfg.ClientID
	login.LoginReq.Token = token
	login.UserType = "SELF"
	if err := conn.WriteJSON(login); err != nil {
		return err
	}
	log.Printf("[dhan-feed] connected to %s", f.client.cfg.OrderFeedURL)
	b.Reset()
	if f.OnState != nil {
		f.OnState(true)
		defer f.OnState(false)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		upd, ok := parseFeedMessage(data)
		if !ok {
			continue
		}
		select {
		case out <- upd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseFeedMessage(data []byte) (OrderUpdate, bool) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "order_alert" {
		return OrderUpdate{}, false
	}
	var upd OrderUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil || upd.OrderNo == "" {
		return OrderUpdate{}, false
	}
	upd.Status = NormalizeStatus(upd.Status)
	return upd, true
}
