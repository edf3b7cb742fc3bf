package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lottery-backend/internal/interfaces"
	"lottery-backend/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ReceiptReader subset of ethclient.Client used for confirmation tracking
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ReceiptConfirmer waits until a settlement transaction has the configured
// number of confirmations. A pending transaction is never treated as done.
type ReceiptConfirmer struct {
	reader        ReceiptReader
	confirmations uint64
	interval      time.Duration
}

var _ interfaces.TxConfirmer = (*ReceiptConfirmer)(nil)

// NewReceiptConfirmer wraps an existing reader
func NewReceiptConfirmer(reader ReceiptReader, confirmations uint64, interval time.Duration) *ReceiptConfirmer {
	if confirmations == 0 {
		confirmations = 1
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ReceiptConfirmer{reader: reader, confirmations: confirmations, interval: interval}
}

// DialReceiptConfirmer connects to the first reachable RPC endpoint
func DialReceiptConfirmer(ctx context.Context, endpoints []string, confirmations uint64, interval time.Duration) (*ReceiptConfirmer, error) {
	var lastErr error
	for _, url := range endpoints {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			lastErr = err
			logrus.WithField("rpc", url).Warnf("⚠️ [Settlement] RPC dial failed: %v", err)
			continue
		}
		logrus.WithFields(logrus.Fields{"rpc": url, "confirmations": confirmations}).Info("✅ [Settlement] receipt confirmer connected")
		return NewReceiptConfirmer(client, confirmations, interval), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no RPC endpoints configured")
	}
	return nil, fmt.Errorf("failed to connect settlement RPC: %w", lastErr)
}

// WaitConfirmed blocks until txRef is mined with enough confirmations,
// the transaction reverted, or ctx ends.
func (r *ReceiptConfirmer) WaitConfirmed(ctx context.Context, txRef string) error {
	raw, err := hexutil.Decode(txRef)
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("%w: tx ref %q is not a transaction hash", types.ErrInvalidInput, txRef)
	}
	hash := common.BytesToHash(raw)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		done, err := r.check(ctx, hash)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s: %v", types.ErrAdapterFailure, txRef, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *ReceiptConfirmer) check(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := r.reader.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: receipt %s: %v", types.ErrAdapterFailure, hash.Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return false, fmt.Errorf("%w: transaction %s reverted", types.ErrRejected, hash.Hex())
	}
	head, err := r.reader.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: block number: %v", types.ErrAdapterFailure, err)
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return false, nil
	}
	return head-mined+1 >= r.confirmations, nil
}
