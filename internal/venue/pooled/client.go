package pooled

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
	"github.com/alexvolkov/dexbot/internal/chain"
	"github.com/alexvolkov/dexbot/internal/httpx"
	"github.com/alexvolkov/dexbot/internal/token"
	"github.com/alexvolkov/dexbot/internal/venue"
)

const (
	codePoolNotFound  = "pool_not_found"
	codeNoRoute       = "no_route"
	codeAssetNotFound = "asset_not_found"
)

// Client trades through a liquidity-pool AMM venue. Not every pair has a
// direct pool: quoting and execution try the direct pair first and fall back
// to routing through the base asset, then the stable asset.
type Client struct {
	name        string
	http        *httpx.Client
	baseURL     string
	submitter   chain.Submitter
	key         *ecdsa.PrivateKey
	recipient   string
	baseAsset   string
	stableAsset string
}

type Config struct {
	Name        string
	BaseURL     string
	BaseAsset   string
	StableAsset string
}

func New(httpClient *httpx.Client, cfg Config, submitter chain.Submitter, key *ecdsa.PrivateKey, recipient string) *Client {
	name := cfg.Name
	if name == "" {
		name = "pooled"
	}
	return &Client{
		name:        name,
		http:        httpClient,
		baseURL:     cfg.BaseURL,
		submitter:   submitter,
		key:         key,
		recipient:   recipient,
		baseAsset:   cfg.BaseAsset,
		stableAsset: cfg.StableAsset,
	}
}

func (c *Client) Name() string { return c.name }

type apiEnvelope struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code"`
}

type quoteResponse struct {
	apiEnvelope
	AmountOut string `json:"amount_out"`
}

type rateResponse struct {
	apiEnvelope
	Rate float64 `json:"rate"`
}

type swapResponse struct {
	apiEnvelope
	Tx struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		GasLimit uint64 `json:"gas_limit"`
	} `json:"tx"`
}

type assetResponse struct {
	apiEnvelope
	Asset struct {
		AssetID  string `json:"asset_id"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	} `json:"asset"`
}

func (c *Client) Quote(ctx context.Context, assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	return withRouteFallback(c, func(via string) (*big.Int, error) {
		var resp quoteResponse
		err := httpx.PostJSON(ctx, c.http, c.baseURL+"/v1/quote", map[string]any{
			"asset_in":  assetIn,
			"asset_out": assetOut,
			"amount_in": amountIn.String(),
			"via":       via,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if err := c.apiError(resp.apiEnvelope); err != nil {
			return nil, err
		}
		out, ok := new(big.Int).SetString(resp.AmountOut, 10)
		if !ok || out.Sign() <= 0 {
			return nil, boterr.Newf(boterr.KindRouteUnavailable,
				"%s returned invalid output amount for %s -> %s", c.name, assetIn, assetOut)
		}
		return out, nil
	})
}

func (c *Client) Rate(ctx context.Context, assetIn, assetOut string) (float64, error) {
	return withRouteFallback(c, func(via string) (float64, error) {
		var resp rateResponse
		err := httpx.PostJSON(ctx, c.http, c.baseURL+"/v1/rate", map[string]any{
			"asset_in":  assetIn,
			"asset_out": assetOut,
			"via":       via,
		}, &resp)
		if err != nil {
			return 0, err
		}
		if err := c.apiError(resp.apiEnvelope); err != nil {
			return 0, err
		}
		if resp.Rate <= 0 {
			return 0, boterr.Newf(boterr.KindRouteUnavailable,
				"%s returned invalid rate for %s -> %s", c.name, assetIn, assetOut)
		}
		return resp.Rate, nil
	})
}

func (c *Client) Execute(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut *big.Int) (venue.ExecutionResult, error) {
	txReq, err := withRouteFallback(c, func(via string) (chain.TxRequest, error) {
		var resp swapResponse
		err := httpx.PostJSON(ctx, c.http, c.baseURL+"/v1/swap", map[string]any{
			"asset_in":       assetIn,
			"asset_out":      assetOut,
			"amount_in":      amountIn.String(),
			"min_amount_out": minAmountOut.String(),
			"recipient":      c.recipient,
			"via":            via,
		}, &resp)
		if err != nil {
			return chain.TxRequest{}, err
		}
		if err := c.apiError(resp.apiEnvelope); err != nil {
			return chain.TxRequest{}, err
		}
		value := new(big.Int)
		if resp.Tx.Value != "" {
			if _, ok := value.SetString(resp.Tx.Value, 10); !ok {
				return chain.TxRequest{}, boterr.Newf(boterr.KindExecutionFailed,
					"%s returned invalid transaction value", c.name)
			}
		}
		data, err := decodeHex(resp.Tx.Data)
		if err != nil {
			return chain.TxRequest{}, boterr.Wrap(boterr.KindExecutionFailed,
				fmt.Sprintf("%s returned invalid calldata", c.name), err)
		}
		return chain.TxRequest{
			To:       resp.Tx.To,
			Data:     data,
			Value:    value,
			GasLimit: resp.Tx.GasLimit,
		}, nil
	})
	if err != nil {
		return venue.ExecutionResult{}, err
	}

	hash, err := c.submitter.Submit(ctx, c.key, txReq)
	if err != nil {
		return venue.ExecutionResult{TxHash: hash}, err
	}
	return venue.ExecutionResult{TxHash: hash}, nil
}

func (c *Client) Probe(ctx context.Context, assetID string) (token.Info, error) {
	var resp assetResponse
	if err := httpx.GetJSON(ctx, c.http, c.baseURL+"/v1/asset/"+assetID, &resp); err != nil {
		return token.Info{}, err
	}
	if err := c.apiError(resp.apiEnvelope); err != nil {
		return token.Info{}, err
	}
	return token.Info{
		AssetID:  resp.Asset.AssetID,
		Symbol:   resp.Asset.Symbol,
		Name:     resp.Asset.Name,
		Decimals: resp.Asset.Decimals,
		Class:    token.ClassPooled,
	}, nil
}

func (c *Client) apiError(env apiEnvelope) error {
	if env.Success {
		return nil
	}
	switch env.ErrorCode {
	case codePoolNotFound:
		return boterr.Newf(boterr.KindPoolNotFound, "%s: pool not found", c.name)
	case codeNoRoute:
		return boterr.Newf(boterr.KindRouteUnavailable, "%s: no route", c.name)
	case codeAssetNotFound:
		return boterr.Newf(boterr.KindNotFound, "%s: asset not found", c.name)
	case "":
		return boterr.Newf(boterr.KindInternal, "%s: request rejected", c.name)
	default:
		return boterr.Newf(boterr.KindExecutionFailed, "%s: %s", c.name, env.ErrorCode)
	}
}

// withRouteFallback runs fn against the direct pair, then through the base
// asset, then through the stable asset, advancing only on a pool-not-found
// signal.
func withRouteFallback[T any](c *Client, fn func(via string) (T, error)) (T, error) {
	out, err := fn("")
	if err == nil || boterr.KindOf(err) != boterr.KindPoolNotFound {
		return out, err
	}
	out, err = fn(c.baseAsset)
	if err == nil || boterr.KindOf(err) != boterr.KindPoolNotFound {
		return out, err
	}
	out, err = fn(c.stableAsset)
	if err == nil {
		return out, nil
	}
	if boterr.KindOf(err) == boterr.KindPoolNotFound {
		var zero T
		return zero, boterr.Wrap(boterr.KindRouteUnavailable, c.name+": no pool route", err)
	}
	return out, err
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
