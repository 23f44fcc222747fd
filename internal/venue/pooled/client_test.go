package pooled

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/httpx"
)

const (
	baseAsset   = "0x000000000000000000000000000000000000b00e"
	stableAsset = "0x000000000000000000000000000000000000057b"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(httpx.New(time.Second, 0), Config{
		Name:        "amm",
		BaseURL:     srv.URL,
		BaseAsset:   baseAsset,
		StableAsset: stableAsset,
	}, nil, nil, "0x00000000000000000000000000000000000000aa")
	return c, srv.Close
}

func TestQuoteDirectPool(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["via"] != "" {
			t.Fatalf("expected direct route, got via=%v", req["via"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "amount_out": "6200"})
	}))
	defer done()

	out, err := c.Quote(context.Background(), "0x01", "0x02", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if out.Int64() != 6200 {
		t.Fatalf("expected 6200, got %s", out)
	}
}

func TestQuoteFallsBackThroughIntermediates(t *testing.T) {
	var vias []string
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		via, _ := req["via"].(string)
		vias = append(vias, via)
		if via != stableAsset {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error_code": "pool_not_found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "amount_out": "500"})
	}))
	defer done()

	out, err := c.Quote(context.Background(), "0x01", "0x02", big.NewInt(100))
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if out.Int64() != 500 {
		t.Fatalf("expected 500, got %s", out)
	}
	want := []string{"", baseAsset, stableAsset}
	if len(vias) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), vias)
	}
	for i := range want {
		if vias[i] != want[i] {
			t.Fatalf("attempt %d used via=%q, want %q", i, vias[i], want[i])
		}
	}
}

func TestQuoteNoPoolAnywhere(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error_code": "pool_not_found"})
	}))
	defer done()

	_, err := c.Quote(context.Background(), "0x01", "0x02", big.NewInt(100))
	if !boterr.IsKind(err, boterr.KindRouteUnavailable) {
		t.Fatalf("expected route_unavailable, got %v", err)
	}
}

func TestProbeMapsAssetNotFound(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error_code": "asset_not_found"})
	}))
	defer done()

	_, err := c.Probe(context.Background(), "0xdead")
	if !boterr.IsKind(err, boterr.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestProbeReturnsPooledClass(t *testing.T) {
	c, done := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"asset": map[string]any{
				"asset_id": "0x02", "name": "Token", "symbol": "TKN", "decimals": 9,
			},
		})
	}))
	defer done()

	info, err := c.Probe(context.Background(), "0x02")
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if !info.Class.Pooled() {
		t.Fatalf("expected pooled class, got %v", info.Class)
	}
	if info.Symbol != "TKN" || info.Decimals != 9 {
		t.Fatalf("unexpected info: %+v", info)
	}
}
