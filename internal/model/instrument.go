package model

// Instrument identifies a tradeable symbol and how each provider names it.
type Instrument struct {
	Symbol         string `json:"symbol" yaml:"symbol"`
	DhanSecurityID string `json:"dhan_security_id" yaml:"dhan_security_id"`
	DhanSegment    string `json:"dhan_segment" yaml:"dhan_segment"`       // IDX_I, NSE_EQ, NSE_FNO
	DhanInstrument string `json:"dhan_instrument" yaml:"dhan_instrument"` // INDEX, EQUITY, OPTIDX
	NSEIndex       string `json:"nse_index" yaml:"nse_index"`             // e.g. "NIFTY 50"
	NSESymbol      string `json:"nse_symbol" yaml:"nse_symbol"`           // derivatives symbol, e.g. "NIFTY"
	YahooSymbol    string `json:"yahoo_symbol" yaml:"yahoo_symbol"`       // e.g. "^NSEI"
	LotSize        int64  `json:"lot_size" yaml:"lot_size"`
}

// Nifty50 returns the NIFTY 50 index as known to Dhan, NSE and Yahoo.
func Nifty50() Instrument {
	return Instrument{
		Symbol:         "NIFTY50",
		DhanSecurityID: "13",
		DhanSegment:    "IDX_I",
		DhanInstrument: "INDEX",
		NSEIndex:       "NIFTY 50",
		NSESymbol:      "NIFTY",
		YahooSymbol:    "^NSEI",
		LotSize:        75,
	}
}

// Tradeable reports whether orders can be placed on the instrument itself.
// Indices trade only through their derivatives.
func (i Instrument) Tradeable() bool {
	return i.DhanSegment != "IDX_I" && i.DhanInstrument != "INDEX"
}

// Key returns the instrument key used by stores and publishers.
func (i Instrument) Key() string {
	return i.Symbol
}
