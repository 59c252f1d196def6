package dhan

import (
	"context"
	"net/http"
	"sort"
	"strconv"
)

// Exchange segments used by the engine.
const (
	SegmentIndex = "IDX_I"
	SegmentFNO   = "NSE_FNO"
)

// OptionChainRequest asks for one expiry of an underlying's chain.
// Dhan allows one option-chain request every three seconds.
type OptionChainRequest struct {
	UnderlyingScrip int    `json:"UnderlyingScrip"` // 13 for NIFTY
	UnderlyingSeg   string `json:"UnderlyingSeg"`   // IDX_I
	Expiry          string `json:"Expiry"`          // 2006-01-02
}

// OptionQuote is one call or put row.
type OptionQuote struct {
	SecurityID   int64   `json:"security_id"`
	LastPrice    float64 `json:"last_price"`
	OI           int64   `json:"oi"`
	PreviousOI   int64   `json:"previous_oi"`
	TopBidPrice  float64 `json:"top_bid_price"`
	TopAskPrice  float64 `json:"top_ask_price"`
	Volume       int64   `json:"volume"`
	ImpliedVol   float64 `json:"implied_volatility"`
	PreviousLast float64 `json:"previous_close_price"`
}

// StrikeQuotes holds a strike's call and put; either may be absent.
type StrikeQuotes struct {
	CE *OptionQuote `json:"ce"`
	PE *OptionQuote `json:"pe"`
}

// OptionChain is the decoded chain. Strikes are keyed by Dhan's decimal
// string ("25000.000000").
type OptionChain struct {
	LastPrice float64                 `json:"last_price"`
	OC        map[string]StrikeQuotes `json:"oc"`
}

// StrikeRow is one parsed strike with its legs; a nil leg is not listed.
type StrikeRow struct {
	Strike float64
	CE, PE *OptionQuote
}

// Rows returns the chain sorted by strike. Keys that are not numbers are
// skipped.
func (c *OptionChain) Rows() []StrikeRow {
	rows := make([]StrikeRow, 0, len(c.OC))
	for k, v := range c.OC {
		strike, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		rows = append(rows, StrikeRow{Strike: strike, CE: v.CE, PE: v.PE})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })
	return rows
}

// OptionChain fetches the chain for one expiry.
func (c *Client) OptionChain(ctx context.Context, req OptionChainRequest) (*OptionChain, error) {
	var out struct {
		Status string      `json:"status"`
		Data   OptionChain `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/optionchain", req, &out); err != nil {
		return nil, err
	}
	if len(out.Data.OC) == 0 {
		return nil, &APIError{Status: http.StatusOK, Code: "DH-907", Message: "empty option chain"}
	}
	return &out.Data, nil
}
