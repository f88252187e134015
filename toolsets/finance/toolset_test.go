package finance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const chartFixture = `{
  "chart": {
    "result": [{
      "meta": {
        "symbol": "AAPL",
        "currency": "USD",
        "exchangeName": "NMS",
        "regularMarketPrice": 228.5,
        "chartPreviousClose": 226.1
      },
      "timestamp": [1724630400, 1724716800],
      "indicators": {
        "quote": [{
          "open": [227.0, 228.0],
          "high": [229.0, 230.0],
          "low": [226.5, 227.5],
          "close": [228.5, 229.2],
          "volume": [41000000, 39000000]
        }]
      }
    }],
    "error": null
  }
}`

const chartErrorFixture = `{
  "chart": {
    "result": null,
    "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}
  }
}`

const financialsFixture = `{
  "quoteSummary": {
    "result": [{
      "incomeStatementHistory": {
        "incomeStatementHistory": [
          {"endDate": {"fmt": "2025-06-30"}, "totalRevenue": {"raw": 385000000000}}
        ]
      }
    }],
    "error": null
  }
}`

func newTestToolset(t *testing.T, handler http.HandlerFunc) *Toolset {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestGetQuote(t *testing.T) {
	ts := newTestToolset(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v8/finance/chart/AAPL") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(chartFixture))
	})

	raw, err := ts.getQuote(context.Background(), json.RawMessage(`{"symbol":"AAPL"}`))
	if err != nil {
		t.Fatalf("failed to get quote: %v", err)
	}

	var result QuoteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Symbol != "AAPL" || result.Currency != "USD" {
		t.Errorf("unexpected quote: %+v", result)
	}
	if result.Price != 228.5 || result.PreviousClose != 226.1 {
		t.Errorf("unexpected prices: %+v", result)
	}
}

func TestGetQuoteUpstreamError(t *testing.T) {
	ts := newTestToolset(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(chartErrorFixture))
	})

	_, err := ts.getQuote(context.Background(), json.RawMessage(`{"symbol":"GHOST"}`))
	if err == nil {
		t.Fatal("expected upstream error, got nil")
	}
	if !strings.Contains(err.Error(), "delisted") {
		t.Errorf("expected upstream description in error, got %v", err)
	}
}

func TestGetQuoteServerFailure(t *testing.T) {
	ts := newTestToolset(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	if _, err := ts.getQuote(context.Background(), json.RawMessage(`{"symbol":"AAPL"}`)); err == nil {
		t.Error("expected error on non-200 response, got nil")
	}
}

func TestGetHistory(t *testing.T) {
	var gotRange, gotInterval string
	ts := newTestToolset(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.URL.Query().Get("range")
		gotInterval = r.URL.Query().Get("interval")
		w.Write([]byte(chartFixture))
	})

	raw, err := ts.getHistory(context.Background(), json.RawMessage(`{"symbol":"AAPL","range":"5d","interval":"1d"}`))
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if gotRange != "5d" || gotInterval != "1d" {
		t.Errorf("range/interval not forwarded: %s, %s", gotRange, gotInterval)
	}

	var result HistoryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(result.Bars))
	}
	if result.Bars[0].Open != 227.0 || result.Bars[1].Close != 229.2 {
		t.Errorf("unexpected bars: %+v", result.Bars)
	}
	if result.Bars[0].Volume != 41000000 {
		t.Errorf("unexpected volume: %d", result.Bars[0].Volume)
	}
}

func TestGetHistoryDefaults(t *testing.T) {
	var gotRange, gotInterval string
	ts := newTestToolset(t, func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.URL.Query().Get("range")
		gotInterval = r.URL.Query().Get("interval")
		w.Write([]byte(chartFixture))
	})

	if _, err := ts.getHistory(context.Background(), json.RawMessage(`{"symbol":"AAPL"}`)); err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if gotRange != "1mo" || gotInterval != "1d" {
		t.Errorf("unexpected defaults: %s, %s", gotRange, gotInterval)
	}
}

func TestGetFinancials(t *testing.T) {
	ts := newTestToolset(t, func(w http.ResponseWriter, r *http.Request) {
		if module := r.URL.Query().Get("modules"); module != "incomeStatementHistory" {
			t.Errorf("unexpected module: %s", module)
		}
		w.Write([]byte(financialsFixture))
	})

	raw, err := ts.getFinancials(context.Background(), json.RawMessage(`{"symbol":"AAPL","statement":"income"}`))
	if err != nil {
		t.Fatalf("failed to get financials: %v", err)
	}

	var result FinancialsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Statement != "income" {
		t.Errorf("unexpected statement: %s", result.Statement)
	}
	if !strings.Contains(string(result.Statements), "totalRevenue") {
		t.Errorf("statement payload missing: %s", result.Statements)
	}
}

func TestGetFinancialsRejectsUnknownStatement(t *testing.T) {
	ts := New()

	_, err := ts.getFinancials(context.Background(), json.RawMessage(`{"symbol":"AAPL","statement":"quarterly"}`))
	if err == nil {
		t.Fatal("expected unknown statement to fail, got nil")
	}
	if !strings.Contains(err.Error(), "income, balance, cash") {
		t.Errorf("unexpected error: %v", err)
	}
}
