package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

// NativeAssetID is the sentinel address venues use for the chain's native
// asset.
const NativeAssetID = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

var (
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	transferSelector  = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
)

// TxRequest is a prepared transaction handed back by a venue API.
type TxRequest struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// Reader reads balances from the chain.
type Reader interface {
	Balance(ctx context.Context, owner, assetID string) (*big.Int, error)
}

// Submitter signs and submits a prepared transaction, then waits for its
// receipt.
type Submitter interface {
	Submit(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (string, error)
}

// Client wraps an RPC connection with balance reads, transaction submission
// and receipt polling.
type Client struct {
	eth            *ethclient.Client
	chainID        *big.Int
	gasMultiplier  float64
	pollInterval   time.Duration
	receiptTimeout time.Duration
	log            *zap.Logger
}

func Dial(ctx context.Context, rpcURL string, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindNetworkFault, "dial rpc", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindNetworkFault, "read chain id", err)
	}
	return &Client{
		eth:            eth,
		chainID:        chainID,
		gasMultiplier:  1.2,
		pollInterval:   2 * time.Second,
		receiptTimeout: 2 * time.Minute,
		log:            log,
	}, nil
}

func (c *Client) Close() {
	if c != nil && c.eth != nil {
		c.eth.Close()
	}
}

// Balance returns the owner's balance of an asset in base units. The native
// sentinel reads the account balance; everything else is a balanceOf call.
func (c *Client) Balance(ctx context.Context, owner, assetID string) (*big.Int, error) {
	ownerAddr := common.HexToAddress(owner)
	if IsNative(assetID) {
		v, err := c.eth.BalanceAt(ctx, ownerAddr, nil)
		if err != nil {
			return nil, boterr.Wrap(boterr.KindNetworkFault, "read native balance", err)
		}
		return v, nil
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(ownerAddr.Bytes(), 32)...)
	asset := common.HexToAddress(assetID)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindNetworkFault, "read token balance", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Submit signs the request with key, sends it and waits for the receipt.
// A reverted receipt surfaces as KindExecutionFailed; a confirmation timeout
// surfaces as KindNetworkFault so callers can apply their own recovery.
func (c *Client) Submit(ctx context.Context, key *ecdsa.PrivateKey, req TxRequest) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", boterr.Wrap(boterr.KindNetworkFault, "read nonce", err)
	}

	tipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return "", boterr.Wrap(boterr.KindNetworkFault, "suggest gas tip", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", boterr.Wrap(boterr.KindNetworkFault, "read chain head", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	to := common.HexToAddress(req.To)
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: from, To: &to, Value: value, Data: req.Data,
		})
		if err != nil {
			return "", boterr.Wrap(boterr.KindExecutionFailed, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimated) * c.gasMultiplier)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", boterr.Wrap(boterr.KindInternal, "sign transaction", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", boterr.Wrap(boterr.KindExecutionFailed, "send transaction", err)
	}

	hash := signed.Hash()
	if err := c.waitReceipt(ctx, hash); err != nil {
		return hash.Hex(), err
	}
	return hash.Hex(), nil
}

func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) error {
	deadline := time.Now().Add(c.receiptTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return boterr.Newf(boterr.KindExecutionFailed, "transaction %s reverted", hash.Hex())
			}
			return nil
		}

		if time.Now().After(deadline) {
			return boterr.Newf(boterr.KindNetworkFault, "timeout waiting for confirmation of %s", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return boterr.Wrap(boterr.KindNetworkFault, "confirmation cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Transfer moves an asset from the key's account to a destination address.
// A full-balance native transfer is adjusted down by the estimated fee; a
// balance too small to cover the fee is rejected before submission.
func (c *Client) Transfer(ctx context.Context, key *ecdsa.PrivateKey, destination, assetID string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", boterr.New(boterr.KindInvalidInput, "transfer amount must be positive")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	if IsNative(assetID) {
		tipCap, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return "", boterr.Wrap(boterr.KindNetworkFault, "suggest gas tip", err)
		}
		head, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return "", boterr.Wrap(boterr.KindNetworkFault, "read chain head", err)
		}
		feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		const transferGas = 21000
		fee := new(big.Int).Mul(feeCap, big.NewInt(transferGas))
		if amount.Cmp(fee) <= 0 {
			return "", boterr.New(boterr.KindInvalidInput, "insufficient balance to cover transaction fee")
		}

		balance, err := c.Balance(ctx, from.Hex(), NativeAssetID)
		if err != nil {
			return "", err
		}
		sendAmount := new(big.Int).Set(amount)
		if new(big.Int).Add(sendAmount, fee).Cmp(balance) > 0 {
			sendAmount.Sub(sendAmount, fee)
		}
		if sendAmount.Sign() <= 0 {
			return "", boterr.New(boterr.KindInvalidInput, "insufficient amount after deducting transaction fee")
		}
		return c.Submit(ctx, key, TxRequest{To: destination, Value: sendAmount, GasLimit: transferGas})
	}

	data := make([]byte, 0, 68)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(destination).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return c.Submit(ctx, key, TxRequest{To: assetID, Data: data})
}

// IsNative reports whether an asset id denotes the chain's native asset.
func IsNative(assetID string) bool {
	return strings.EqualFold(assetID, NativeAssetID)
}

// ValidAddress reports whether s looks like a well-formed hex address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
