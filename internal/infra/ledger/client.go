// Package ledger mirrors product writes onto the AgriChain contract.
package ledger

import (
	"bytes"
	"context"
	_ "embed"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/agrichain/internal/config"
	"github.com/totegamma/agrichain/internal/domain"
)

var tracer = otel.Tracer("ledger")

//go:embed agrichain.abi.json
var defaultABI []byte

type transactor interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

type waitFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Client sends contract transactions with the single admin signer.
type Client struct {
	abi            abi.ABI
	contract       transactor
	signer         *bind.TransactOpts
	wait           waitFunc
	confirmTimeout time.Duration
	backend        *ethclient.Client

	// one signer means one nonce sequence
	mu sync.Mutex
}

func NewClient(ctx context.Context, cfg config.Ledger) (*Client, error) {
	parsed, err := LoadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid ledger private key")
	}

	signer, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transactor")
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, errors.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", cfg.RPCURL)
	}

	contract := bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, backend, backend, backend)

	client := newClient(parsed, contract, signer, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, backend, tx)
	}, cfg.ConfirmTimeout)
	client.backend = backend

	slog.Info("ledger client ready", "contract", cfg.ContractAddress, "signer", signer.From.Hex(), "chainID", cfg.ChainID)
	return client, nil
}

func newClient(parsed abi.ABI, contract transactor, signer *bind.TransactOpts, wait waitFunc, confirmTimeout time.Duration) *Client {
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &Client{
		abi:            parsed,
		contract:       contract,
		signer:         signer,
		wait:           wait,
		confirmTimeout: confirmTimeout,
	}
}

// LoadABI reads the contract ABI from path, or the built-in one when path is
// empty.
func LoadABI(path string) (abi.ABI, error) {
	raw := defaultABI
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, errors.Wrapf(err, "failed to read abi %s", path)
		}
		raw = b
	}

	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "failed to parse abi")
	}
	return parsed, nil
}

// Invoke calls a contract method and waits for it to be mined. Any failure,
// including an unknown method, a reverted receipt or the confirm timeout,
// yields nil.
func (c *Client) Invoke(ctx context.Context, capability string, args ...any) *domain.LedgerReceipt {
	ctx, span := tracer.Start(ctx, "Ledger.Client.Invoke", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("Capability", capability))

	method, ok := c.abi.Methods[capability]
	if !ok {
		slog.WarnContext(ctx, "capability not found in contract abi", "capability", capability)
		return nil
	}
	if len(method.Inputs) != len(args) {
		slog.WarnContext(ctx, "argument count mismatch", "capability", capability, "want", len(method.Inputs), "got", len(args))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	c.mu.Lock()
	opts := *c.signer
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, capability, args...)
	c.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "ledger transaction failed", "capability", capability, "err", err)
		return nil
	}
	span.SetAttributes(attribute.String("TxHash", tx.Hash().Hex()))

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		span.RecordError(err)
		slog.ErrorContext(ctx, "ledger confirmation failed", "capability", capability, "tx", tx.Hash().Hex(), "err", err)
		return nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		slog.ErrorContext(ctx, "ledger transaction reverted", "capability", capability, "tx", tx.Hash().Hex())
		return nil
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &domain.LedgerReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: block,
	}
}

func (c *Client) Close() {
	if c.backend != nil {
		c.backend.Close()
	}
}
