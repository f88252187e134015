// Package finance exposes market-data lookups as toolrpc tools. Data comes
// from Yahoo-style chart and fundamentals endpoints; the base URL and HTTP
// client are injectable so tests can point the toolset at a fixture server.
package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"toolrpc"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Toolset issues the HTTP requests behind the finance tools.
type Toolset struct {
	baseURL string
	client  *http.Client
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithBaseURL points the toolset at a different endpoint root.
func WithBaseURL(baseURL string) Option {
	return func(t *Toolset) {
		t.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Toolset) {
		t.client = client
	}
}

// New creates a finance toolset.
func New(options ...Option) *Toolset {
	t := &Toolset{
		baseURL: defaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Tools returns the descriptors for every finance tool.
func (t *Toolset) Tools() []toolrpc.Tool {
	return []toolrpc.Tool{
		{
			Name:        "get_quote",
			Description: "Fetch the current quote for a ticker symbol.",
			InputSchema: toolrpc.SchemaFor[QuoteArgs](),
			Handler:     t.getQuote,
		},
		{
			Name:        "get_history",
			Description: "Fetch historical price bars for a ticker symbol over a range.",
			InputSchema: toolrpc.SchemaFor[HistoryArgs](),
			Handler:     t.getHistory,
		},
		{
			Name:        "get_financials",
			Description: "Fetch a financial statement (income, balance, or cash) for a ticker symbol.",
			InputSchema: toolrpc.SchemaFor[FinancialsArgs](),
			Handler:     t.getFinancials,
		},
	}
}

// fetch performs a GET and returns the body for gjson parsing.
func (t *Toolset) fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "toolrpc-finance/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return body, nil
}

func (t *Toolset) getQuote(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params QuoteArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	body, err := t.fetch(ctx, "/v8/finance/chart/"+url.PathEscape(params.Symbol), url.Values{
		"interval": {"1d"},
		"range":    {"1d"},
	})
	if err != nil {
		return nil, err
	}

	if chartErr := gjson.GetBytes(body, "chart.error"); chartErr.Exists() && chartErr.Type != gjson.Null {
		return nil, fmt.Errorf("quote lookup failed: %s", chartErr.Get("description").String())
	}

	meta := gjson.GetBytes(body, "chart.result.0.meta")
	if !meta.Exists() {
		return nil, fmt.Errorf("no quote data for %s", params.Symbol)
	}

	return json.Marshal(QuoteResult{
		Symbol:        meta.Get("symbol").String(),
		Currency:      meta.Get("currency").String(),
		Exchange:      meta.Get("exchangeName").String(),
		Price:         meta.Get("regularMarketPrice").Float(),
		PreviousClose: meta.Get("chartPreviousClose").Float(),
	})
}

func (t *Toolset) getHistory(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params HistoryArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if params.Range == "" {
		params.Range = "1mo"
	}
	if params.Interval == "" {
		params.Interval = "1d"
	}

	body, err := t.fetch(ctx, "/v8/finance/chart/"+url.PathEscape(params.Symbol), url.Values{
		"interval": {params.Interval},
		"range":    {params.Range},
	})
	if err != nil {
		return nil, err
	}

	if chartErr := gjson.GetBytes(body, "chart.error"); chartErr.Exists() && chartErr.Type != gjson.Null {
		return nil, fmt.Errorf("history lookup failed: %s", chartErr.Get("description").String())
	}

	result := gjson.GetBytes(body, "chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("no history data for %s", params.Symbol)
	}

	timestamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")

	bars := make([]Bar, 0, len(timestamps))
	for i, ts := range timestamps {
		idx := fmt.Sprintf("%d", i)
		bars = append(bars, Bar{
			Timestamp: ts.Int(),
			Open:      quote.Get("open." + idx).Float(),
			High:      quote.Get("high." + idx).Float(),
			Low:       quote.Get("low." + idx).Float(),
			Close:     quote.Get("close." + idx).Float(),
			Volume:    quote.Get("volume." + idx).Int(),
		})
	}

	return json.Marshal(HistoryResult{
		Symbol:   params.Symbol,
		Range:    params.Range,
		Interval: params.Interval,
		Bars:     bars,
	})
}

// statementModules maps the statement argument to the fundamentals module
// name on the wire.
var statementModules = map[string]string{
	"income":  "incomeStatementHistory",
	"balance": "balanceSheetHistory",
	"cash":    "cashflowStatementHistory",
}

func (t *Toolset) getFinancials(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var params FinancialsArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	module, ok := statementModules[params.Statement]
	if !ok {
		return nil, fmt.Errorf("unknown statement %q: must be one of income, balance, cash", params.Statement)
	}

	body, err := t.fetch(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(params.Symbol), url.Values{
		"modules": {module},
	})
	if err != nil {
		return nil, err
	}

	if qsErr := gjson.GetBytes(body, "quoteSummary.error"); qsErr.Exists() && qsErr.Type != gjson.Null {
		return nil, fmt.Errorf("financials lookup failed: %s", qsErr.Get("description").String())
	}

	statements := gjson.GetBytes(body, "quoteSummary.result.0."+module)
	if !statements.Exists() {
		return nil, fmt.Errorf("no %s data for %s", params.Statement, params.Symbol)
	}

	return json.Marshal(FinancialsResult{
		Symbol:     params.Symbol,
		Statement:  params.Statement,
		Statements: json.RawMessage(statements.Raw),
	})
}
