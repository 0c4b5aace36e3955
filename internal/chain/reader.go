// File: internal/chain/reader.go
package chain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/metrics"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// ErrSlotSkipped reports a slot that the ledger skipped entirely. Callers
// treat it as an empty block, not a failure.
var ErrSlotSkipped = errors.New("slot skipped by ledger")

// JSON-RPC error codes returned by Solana nodes for skipped/pruned slots.
const (
	rpcCodeSlotSkipped     = -32007
	rpcCodeLongTermStorage = -32009
)

// Reader defines read-only access to the chain
type Reader interface {
	Connect(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error)
	GetSlot(ctx context.Context) (uint64, error)
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
	SubscribeSlots(ctx context.Context) (<-chan uint64, func(), error)

	Stats() ReaderStats
}

// ReaderStats holds chain reader statistics
type ReaderStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	SkippedSlots    uint64    `json:"skipped_slots"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LatestSlot      uint64    `json:"latest_slot"`
	IsHealthy       bool      `json:"is_healthy"`
}

// RPCReader implements Reader over a Solana JSON-RPC endpoint plus an
// optional websocket endpoint for slot notifications.
type RPCReader struct {
	config     *config.SolanaConfig
	commitment rpc.CommitmentType

	mu       sync.RWMutex
	client   *rpc.Client
	wsClient *ws.Client
	stats    ReaderStats

	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewRPCReader creates a new chain reader
func NewRPCReader(cfg *config.SolanaConfig) *RPCReader {
	commitment := rpc.CommitmentConfirmed
	if cfg.Commitment != "" {
		commitment = rpc.CommitmentType(cfg.Commitment)
	}

	return &RPCReader{
		config:     cfg,
		commitment: commitment,
		logger:     utils.ComponentLogger("chain"),
	}
}

// SetMetrics attaches the RPC request metrics. Must be called before Connect.
func (r *RPCReader) SetMetrics(m *metrics.PrometheusMetrics) {
	r.metrics = m
}

// Connect establishes the RPC and websocket connections
func (r *RPCReader) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.client = rpc.New(r.config.RPCURL)

	if r.config.WSURL != "" {
		wsClient, err := ws.Connect(ctx, r.config.WSURL)
		if err != nil {
			// Slot subscriptions degrade to polling without a websocket
			r.logger.WithError(err).Warn("Websocket connection failed, slot notifications unavailable")
		} else {
			r.wsClient = wsClient
		}
	}

	r.stats.LastConnectedAt = time.Now()
	r.stats.IsHealthy = true

	r.logger.WithFields(logrus.Fields{
		"rpc_url":    r.config.RPCURL,
		"commitment": string(r.commitment),
		"websocket":  r.wsClient != nil,
	}).Info("Chain reader connected")

	return nil
}

// Close releases the RPC and websocket connections
func (r *RPCReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wsClient != nil {
		r.wsClient.Close()
		r.wsClient = nil
	}
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
	r.stats.IsHealthy = false

	r.logger.Info("Chain reader closed")
	return nil
}

// HealthCheck verifies the RPC endpoint answers a slot query
func (r *RPCReader) HealthCheck(ctx context.Context) error {
	_, err := r.GetSlot(ctx)
	r.mu.Lock()
	r.stats.IsHealthy = err == nil
	r.mu.Unlock()
	return err
}

// GetSlot returns the current slot at the configured commitment
func (r *RPCReader) GetSlot(ctx context.Context) (uint64, error) {
	client, err := r.getClient()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	r.countRequest()
	start := time.Now()
	slot, err := client.GetSlot(ctx, r.commitment)
	if err != nil {
		r.countFailure()
		r.observeRPC("getSlot", "error", start)
		return 0, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get slot", err.Error())
	}
	r.observeRPC("getSlot", "success", start)

	r.mu.Lock()
	r.stats.LatestSlot = slot
	r.mu.Unlock()

	return slot, nil
}

// GetBlock fetches a confirmed block by slot with bounded retry. A slot the
// ledger skipped returns ErrSlotSkipped immediately, without retries.
func (r *RPCReader) GetBlock(ctx context.Context, slot uint64) (*rpc.GetBlockResult, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	maxTxVersion := uint64(0)
	includeRewards := false
	opts := &rpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     r.commitment,
		TransactionDetails:             rpc.TransactionDetailsFull,
		Rewards:                        &includeRewards,
		MaxSupportedTransactionVersion: &maxTxVersion,
	}

	var lastErr error
	for attempt := 0; attempt < r.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.config.RetryDelay):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
		r.countRequest()
		start := time.Now()
		block, err := client.GetBlockWithOpts(reqCtx, slot, opts)
		cancel()

		if err == nil {
			r.observeRPC("getBlock", "success", start)
			return block, nil
		}

		if isSlotSkipped(err) {
			r.mu.Lock()
			r.stats.SkippedSlots++
			r.mu.Unlock()
			r.observeRPC("getBlock", "skipped", start)
			return nil, ErrSlotSkipped
		}

		r.countFailure()
		r.observeRPC("getBlock", "error", start)
		lastErr = err
		r.logger.WithFields(logrus.Fields{
			"slot":    slot,
			"attempt": attempt + 1,
		}).WithError(err).Warn("Block fetch failed")
	}

	return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get block", lastErr.Error())
}

// GetAccountData returns the raw account data for a pubkey
func (r *RPCReader) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.RequestTimeout)
	defer cancel()

	r.countRequest()
	start := time.Now()
	result, err := client.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
	})
	if err != nil {
		r.countFailure()
		r.observeRPC("getAccountInfo", "error", start)
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Failed to get account info", err.Error())
	}
	r.observeRPC("getAccountInfo", "success", start)
	if result == nil || result.Value == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Account not found", pubkey.String())
	}

	return result.Value.Data.GetBinary(), nil
}

// SubscribeSlots subscribes to slot-advance notifications. The returned
// cancel function must be called to release the subscription.
func (r *RPCReader) SubscribeSlots(ctx context.Context) (<-chan uint64, func(), error) {
	r.mu.RLock()
	wsClient := r.wsClient
	r.mu.RUnlock()

	if wsClient == nil {
		return nil, nil, utils.NewAppError(utils.ErrCodeConnection, "Websocket not connected", "")
	}

	sub, err := wsClient.SlotSubscribe()
	if err != nil {
		return nil, nil, utils.NewAppError(utils.ErrCodeConnection, "Slot subscription failed", err.Error())
	}

	slots := make(chan uint64, 64)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(slots)
		defer sub.Unsubscribe()

		for {
			result, err := sub.Recv(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					r.logger.WithError(err).Warn("Slot subscription closed")
				}
				return
			}
			select {
			case slots <- result.Slot:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return slots, cancel, nil
}

// Stats returns a copy of the reader statistics
func (r *RPCReader) Stats() ReaderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *RPCReader) getClient() (*rpc.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Chain reader not connected", "")
	}
	return r.client, nil
}

func (r *RPCReader) countRequest() {
	r.mu.Lock()
	r.stats.TotalRequests++
	r.mu.Unlock()
}

func (r *RPCReader) observeRPC(method, status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordRPCRequest(method, status, time.Since(start))
	}
}

func (r *RPCReader) countFailure() {
	r.mu.Lock()
	r.stats.FailedRequests++
	r.mu.Unlock()
}

// isSlotSkipped reports whether err is the node telling us the slot contains
// no block at all (skipped or pruned past the snapshot boundary).
func isSlotSkipped(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == rpcCodeSlotSkipped || rpcErr.Code == rpcCodeLongTermStorage
	}
	return false
}
