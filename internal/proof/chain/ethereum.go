// Package chain implements the public-ledger client on an EVM JSON-RPC
// endpoint. An anchor is a zero-value transaction to the submitting wallet
// itself whose data field carries the usage-record digest.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hunnyEscape/gaming-cafe-billing/internal/config"
	proofdomain "github.com/hunnyEscape/gaming-cafe-billing/internal/proof/domain"
	"go.uber.org/zap"
)

// Anchor transactions carry a short digest; a fixed limit keeps a
// misconfigured node from estimating an unbounded fee.
const anchorGasLimit = 100000

type Client struct {
	log     *zap.Logger
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewClient dials the RPC endpoint and prepares the signing wallet.
func NewClient(cfg config.Config, log *zap.Logger) (*Client, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.Chain.PrivateKey), "0x")
	if keyHex == "" {
		return nil, errors.New("chain private key is not configured")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse chain private key: %w", err)
	}

	eth, err := ethclient.Dial(cfg.Chain.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	return &Client{
		log:     log.Named("proof.chain"),
		eth:     eth,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.Chain.ChainID),
	}, nil
}

func (c *Client) ChainID() int64 { return c.chainID.Int64() }

func (c *Client) SubmitAnchor(ctx context.Context, payload []byte) (proofdomain.AnchorReceipt, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.address, big.NewInt(0), anchorGasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("sign anchor tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("send anchor tx: %w", err)
	}

	c.log.Debug("anchor transaction submitted",
		zap.String("tx_id", signed.Hash().Hex()),
	)

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("await confirmation: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return proofdomain.AnchorReceipt{}, fmt.Errorf("anchor tx %s reverted", signed.Hash().Hex())
	}

	return proofdomain.AnchorReceipt{
		TxID:        signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Int64(),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
