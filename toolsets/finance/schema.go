package finance

import "encoding/json"

// QuoteArgs is the argument struct for the get_quote tool.
type QuoteArgs struct {
	Symbol string `json:"symbol" jsonschema:"required" jsonschema_description:"Ticker symbol, e.g. AAPL"`
}

// QuoteResult is the result of the get_quote tool.
type QuoteResult struct {
	Symbol        string  `json:"symbol"`
	Currency      string  `json:"currency"`
	Exchange      string  `json:"exchange"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previousClose"`
}

// HistoryArgs is the argument struct for the get_history tool.
type HistoryArgs struct {
	Symbol   string `json:"symbol" jsonschema:"required"`
	Range    string `json:"range,omitempty" jsonschema_description:"Lookback window, e.g. 1d, 5d, 1mo, 1y. Defaults to 1mo"`
	Interval string `json:"interval,omitempty" jsonschema_description:"Bar width, e.g. 1m, 1h, 1d. Defaults to 1d"`
}

// Bar is one OHLCV row of a history result.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// HistoryResult is the result of the get_history tool.
type HistoryResult struct {
	Symbol   string `json:"symbol"`
	Range    string `json:"range"`
	Interval string `json:"interval"`
	Bars     []Bar  `json:"bars"`
}

// FinancialsArgs is the argument struct for the get_financials tool.
type FinancialsArgs struct {
	Symbol    string `json:"symbol" jsonschema:"required"`
	Statement string `json:"statement" jsonschema:"required,enum=income,enum=balance,enum=cash"`
}

// FinancialsResult is the result of the get_financials tool. Statements is
// the raw statement history as returned by the data source.
type FinancialsResult struct {
	Symbol     string          `json:"symbol"`
	Statement  string          `json:"statement"`
	Statements json.RawMessage `json:"statements"`
}
