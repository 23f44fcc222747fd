package curve

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"strings"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/chain"
	"github.com/alexvolkov/dexbot/internal/httpx"
	"github.com/alexvolkov/dexbot/internal/token"
	"github.com/alexvolkov/dexbot/internal/venue"
)

// Every launchpad asset is issued with the same precision.
const curveAssetDecimals = 9

const (
	statusActive    = "active"
	statusMigrating = "migrating"
)

// Client trades through a bonding-curve launchpad venue. Curve assets trade
// only against the trade asset: a swap is a buy when the input is the trade
// asset and a sell otherwise.
type Client struct {
	name       string
	http       *httpx.Client
	baseURL    string
	tradeAsset string
	submitter  chain.Submitter
	key        *ecdsa.PrivateKey
	recipient  string
}

type Config struct {
	Name       string
	BaseURL    string
	TradeAsset string
}

func New(httpClient *httpx.Client, cfg Config, submitter chain.Submitter, key *ecdsa.PrivateKey, recipient string) *Client {
	name := cfg.Name
	if name == "" {
		name = "curve"
	}
	return &Client{
		name:       name,
		http:       httpClient,
		baseURL:    cfg.BaseURL,
		tradeAsset: cfg.TradeAsset,
		submitter:  submitter,
		key:        key,
		recipient:  recipient,
	}
}

func (c *Client) Name() string { return c.name }

type previewResponse struct {
	Success   bool   `json:"success"`
	AmountOut string `json:"amount_out"`
}

type tradeResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
	Tx        struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		GasLimit uint64 `json:"gas_limit"`
	} `json:"tx"`
}

type assetResponse struct {
	Success bool `json:"success"`
	Data    struct {
		AssetID string `json:"asset_id"`
		Name    string `json:"asset_name"`
		Symbol  string `json:"asset_symbol"`
		Status  string `json:"status"`
	} `json:"data"`
}

func (c *Client) side(assetIn, assetOut string) (side, asset string, err error) {
	switch {
	case strings.EqualFold(assetIn, c.tradeAsset):
		return "buy", assetOut, nil
	case strings.EqualFold(assetOut, c.tradeAsset):
		return "sell", assetIn, nil
	default:
		return "", "", boterr.Newf(boterr.KindRouteUnavailable,
			"%s only trades against the trade asset", c.name)
	}
}

func (c *Client) Quote(ctx context.Context, assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	side, asset, err := c.side(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	var resp previewResponse
	err = httpx.PostJSON(ctx, c.http, c.baseURL+"/v1/preview", map[string]any{
		"side":      side,
		"asset":     asset,
		"amount_in": amountIn.String(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, boterr.Newf(boterr.KindRouteUnavailable, "%s: preview rejected", c.name)
	}
	out, ok := new(big.Int).SetString(resp.AmountOut, 10)
	if !ok || out.Sign() <= 0 {
		return nil, boterr.Newf(boterr.KindRouteUnavailable,
			"%s returned invalid preview amount for %s", c.name, asset)
	}
	return out, nil
}

func (c *Client) Rate(ctx context.Context, assetIn, assetOut string) (float64, error) {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(curveAssetDecimals), nil)
	out, err := c.Quote(ctx, assetIn, assetOut, unit)
	if err != nil {
		return 0, err
	}
	return token.FromBaseUnits(out, curveAssetDecimals), nil
}

func (c *Client) Execute(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut *big.Int) (venue.ExecutionResult, error) {
	side, asset, err := c.side(assetIn, assetOut)
	if err != nil {
		return venue.ExecutionResult{}, err
	}
	var resp tradeResponse
	err = httpx.PostJSON(ctx, c.http, c.baseURL+"/v1/trade", map[string]any{
		"side":           side,
		"asset":          asset,
		"amount_in":      amountIn.String(),
		"min_amount_out": minAmountOut.String(),
		"recipient":      c.recipient,
	}, &resp)
	if err != nil {
		return venue.ExecutionResult{}, err
	}
	if !resp.Success {
		return venue.ExecutionResult{}, boterr.Newf(boterr.KindExecutionFailed,
			"%s: trade rejected (%s)", c.name, resp.ErrorCode)
	}

	value := new(big.Int)
	if resp.Tx.Value != "" {
		if _, ok := value.SetString(resp.Tx.Value, 10); !ok {
			return venue.ExecutionResult{}, boterr.Newf(boterr.KindExecutionFailed,
				"%s returned invalid transaction value", c.name)
		}
	}
	data, err := decodeHex(resp.Tx.Data)
	if err != nil {
		return venue.ExecutionResult{}, boterr.Wrap(boterr.KindExecutionFailed,
			c.name+" returned invalid calldata", err)
	}

	hash, err := c.submitter.Submit(ctx, c.key, chain.TxRequest{
		To:       resp.Tx.To,
		Data:     data,
		Value:    value,
		GasLimit: resp.Tx.GasLimit,
	})
	if err != nil {
		return venue.ExecutionResult{TxHash: hash}, err
	}
	return venue.ExecutionResult{TxHash: hash}, nil
}

// Probe validates the asset against the launchpad API. Assets still on the
// curve classify as bonding-curve; migrated assets classify as pooled.
func (c *Client) Probe(ctx context.Context, assetID string) (token.Info, error) {
	var resp assetResponse
	if err := httpx.GetJSON(ctx, c.http, c.baseURL+"/v1/asset/"+assetID, &resp); err != nil {
		return token.Info{}, err
	}
	if !resp.Success || resp.Data.AssetID == "" {
		return token.Info{}, boterr.Newf(boterr.KindNotFound, "%s: unknown asset %s", c.name, assetID)
	}

	var class token.Class
	switch resp.Data.Status {
	case statusActive:
		class = token.ClassBondingCurve
	case statusMigrating:
		class = token.ClassPooled
	default:
		return token.Info{}, boterr.Newf(boterr.KindNotFound,
			"%s: asset %s has untradable status %s", c.name, assetID, resp.Data.Status)
	}

	return token.Info{
		AssetID:  resp.Data.AssetID,
		Symbol:   resp.Data.Symbol,
		Name:     resp.Data.Name,
		Decimals: curveAssetDecimals,
		Class:    class,
	}, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
