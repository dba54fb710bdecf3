package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	domainerrors "github.com/rail-service/payment_listener/internal/domain/errors"
	"github.com/rail-service/payment_listener/internal/domain/repositories"
	"github.com/rail-service/payment_listener/internal/infrastructure/notification"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/metrics"
)

const tracerName = "reconciliation.engine"

// Skip reasons, also used as metric labels
const (
	skipDuplicate = "duplicate"
	skipUnmatched = "unmatched"
	skipStale     = "predates_order"
	skipInvalid   = "invalid"
	skipError     = "datastore_error"
)

// Gateway reports recent inbound token transfers to a treasury address
type Gateway interface {
	FetchRecentTransfers(ctx context.Context, treasury, tokenContract string) ([]entities.ObservedTransfer, error)
}

// Chain binds a network to its treasury, token and gateway
type Chain struct {
	Network       entities.Network
	Treasury      string
	TokenContract string
	Gateway       Gateway
}

// Config holds the engine's matching policy. It is passed by value and never mutated.
type Config struct {
	// Tolerance is the largest accepted |expected - paid| difference, inclusive
	Tolerance decimal.Decimal
	// TimestampMargin is how far before an order's creation a transfer may be observed
	TimestampMargin time.Duration
	// CallTimeout bounds each gateway call
	CallTimeout time.Duration
	// NotifyTimeout bounds each asynchronous notification
	NotifyTimeout time.Duration
}

// DefaultConfig returns the documented matching policy
func DefaultConfig() Config {
	return Config{
		Tolerance:       decimal.New(1, -2),
		TimestampMargin: 5 * time.Minute,
		CallTimeout:     15 * time.Second,
		NotifyTimeout:   10 * time.Second,
	}
}

// ChainReport summarises one chain within a cycle
type ChainReport struct {
	Network       entities.Network `json:"network"`
	Fetched       int              `json:"fetched"`
	Matched       int              `json:"matched"`
	Duplicates    int              `json:"duplicates"`
	Unmatched     int              `json:"unmatched"`
	Stale         int              `json:"stale"`
	WriteFailures int              `json:"write_failures"`
	Error         string           `json:"error,omitempty"`
}

// CycleReport is the outcome of one reconciliation cycle
type CycleReport struct {
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	PendingOrders int            `json:"pending_orders"`
	Skipped       bool           `json:"skipped"`
	Chains        []*ChainReport `json:"chains"`
}

// Failed reports whether any chain could not be fetched
func (r *CycleReport) Failed() bool {
	for _, c := range r.Chains {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// Engine matches observed transfers to pending orders and applies completions
type Engine struct {
	store    repositories.OrderStore
	cache    repositories.ProcessedHashCache
	notifier notification.Notifier
	chains   []Chain
	config   Config
	log      *logger.Logger
	now      func() time.Time

	notifications sync.WaitGroup
}

// NewEngine creates an engine. cache may be nil.
func NewEngine(store repositories.OrderStore, cache repositories.ProcessedHashCache, notifier notification.Notifier, chains []Chain, cfg Config, log *logger.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = defaults.Tolerance
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}
	if notifier == nil {
		notifier = notification.NewLogNotifier(log)
	}
	return &Engine{
		store:    store,
		cache:    cache,
		notifier: notifier,
		chains:   chains,
		config:   cfg,
		log:      log,
		now:      time.Now,
	}
}

type chainFetch struct {
	transfers []entities.ObservedTransfer
	err       error
}

// RunCycle performs one reconciliation pass over every configured chain
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RunCycle")
	defer span.End()

	start := e.now()
	report := &CycleReport{StartedAt: start}
	defer func() {
		report.Duration = e.now().Sub(start)
		metrics.CycleDuration.Observe(report.Duration.Seconds())
	}()

	pending, err := e.store.ListPending(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "list pending orders")
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	report.PendingOrders = len(pending)
	metrics.PendingOrders.Set(float64(len(pending)))
	span.SetAttributes(attribute.Int("pending_orders", len(pending)))

	if len(pending) == 0 {
		report.Skipped = true
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.log.Debug("No pending orders, skipping cycle")
		return report, nil
	}

	fetched := e.fetchAll(ctx)

	candidates := newCandidateSet(pending)
	seen := make(map[string]struct{})
	for i, chain := range e.chains {
		cr := &ChainReport{Network: chain.Network}
		report.Chains = append(report.Chains, cr)

		if fetched[i].err != nil {
			cr.Error = fetched[i].err.Error()
			metrics.ChainFailures.WithLabelValues(string(chain.Network)).Inc()
			e.log.Error("Chain fetch failed, skipping chain this cycle",
				"network", chain.Network,
				"error", fetched[i].err)
			continue
		}

		cr.Fetched = len(fetched[i].transfers)
		metrics.TransfersFetched.WithLabelValues(string(chain.Network)).Add(float64(cr.Fetched))
		for _, transfer := range fetched[i].transfers {
			if ctx.Err() != nil {
				break
			}
			if candidates.len() == 0 {
				break
			}
			transfer.Network = chain.Network
			e.reconcileTransfer(ctx, transfer, candidates, seen, cr)
		}
	}

	outcome := "ok"
	if report.Failed() {
		outcome = "partial"
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()

	e.log.Info("Reconciliation cycle finished",
		"pending_orders", report.PendingOrders,
		"outcome", outcome,
		"duration", e.now().Sub(start))
	return report, nil
}

// fetchAll queries every chain concurrently; a failing or panicking chain never affects the others
func (e *Engine) fetchAll(ctx context.Context) []chainFetch {
	results := make([]chainFetch, len(e.chains))
	var wg conc.WaitGroup
	for i, chain := range e.chains {
		i, chain := i, chain
		// stays in place if the fetch panics
		results[i].err = fmt.Errorf("%s fetch did not complete", chain.Network)
		wg.Go(func() {
			results[i] = e.fetchChain(ctx, chain)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		e.log.Error("Chain fetch panicked", "panic", recovered.String())
	}
	return results
}

func (e *Engine) fetchChain(ctx context.Context, chain Chain) chainFetch {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "FetchChain")
	defer span.End()
	span.SetAttributes(attribute.String("network", string(chain.Network)))

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	transfers, err := chain.Gateway.FetchRecentTransfers(callCtx, chain.Treasury, chain.TokenContract)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return chainFetch{err: err}
	}
	span.SetAttributes(attribute.Int("transfers", len(transfers)))
	return chainFetch{transfers: transfers}
}

func (e *Engine) skip(cr *ChainReport, reason string) {
	metrics.TransfersSkipped.WithLabelValues(string(cr.Network), reason).Inc()
	switch reason {
	case skipDuplicate:
		cr.Duplicates++
	case skipUnmatched:
		cr.Unmatched++
	case skipStale:
		cr.Stale++
	}
}

func (e *Engine) reconcileTransfer(ctx context.Context, transfer entities.ObservedTransfer, candidates *candidateSet, seen map[string]struct{}, cr *ChainReport) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ReconcileTransfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("network", string(transfer.Network)),
		attribute.String("tx_hash", transfer.TxHash),
		attribute.String("amount", transfer.Amount.String()),
	)

	if transfer.TxHash == "" || !transfer.Amount.IsPositive() {
		e.skip(cr, skipInvalid)
		return
	}

	seenKey := string(transfer.Network) + ":" + transfer.TxHash
	if _, ok := seen[seenKey]; ok {
		e.skip(cr, skipDuplicate)
		return
	}
	seen[seenKey] = struct{}{}

	processed, err := e.isProcessed(ctx, transfer)
	if err != nil {
		e.writeFailed(ctx, cr, transfer, nil, "has_processed_hash", err)
		return
	}
	if processed {
		e.skip(cr, skipDuplicate)
		return
	}

	order := candidates.closest(transfer.Amount, e.config.Tolerance)
	if order == nil {
		e.skip(cr, skipUnmatched)
		e.log.Debug("No pending order matches transfer",
			"network", transfer.Network,
			"tx_hash", transfer.TxHash,
			"amount", transfer.Amount.String())
		return
	}

	if predatesOrder(transfer.Timestamp, order, e.config.TimestampMargin) {
		e.skip(cr, skipStale)
		e.log.Warn("Transfer predates matching order, rejected",
			"order_id", order.ID,
			"tx_hash", transfer.TxHash,
			"observed_at", transfer.Timestamp,
			"order_created_at", order.CreatedAt)
		return
	}

	result, err := e.store.CompleteOrder(ctx, order.ID, transfer.TxHash, transfer.Network, transfer.Amount)
	if err != nil {
		if errors.Is(err, domainerrors.ErrHashAlreadyUsed) {
			e.markProcessed(ctx, transfer)
			e.skip(cr, skipDuplicate)
			return
		}
		e.writeFailed(ctx, cr, transfer, order, "complete_order", err)
		return
	}

	// whatever the outcome the order is no longer pending
	candidates.remove(order)

	switch result {
	case entities.CompletionSuccess:
		cr.Matched++
		metrics.OrdersCompleted.WithLabelValues(string(transfer.Network)).Inc()
		e.markProcessed(ctx, transfer)
		e.log.Info("Order completed",
			"order_id", order.ID,
			"account_id", order.UserID,
			"network", transfer.Network,
			"tx_hash", transfer.TxHash,
			"expected", order.Amount.String(),
			"paid", transfer.Amount.String())

		activation, err := e.store.ActivateAccount(ctx, order.UserID)
		if err != nil {
			e.writeFailed(ctx, cr, transfer, order, "activate_account", err)
		} else if activation == entities.ActivationAlreadyActive {
			e.log.Info("Account already active", "account_id", order.UserID, "order_id", order.ID)
		}
		e.notify(order, transfer)
	case entities.CompletionAlreadyCompleted:
		e.log.Info("Order no longer pending, completion skipped",
			"order_id", order.ID,
			"tx_hash", transfer.TxHash)
	case entities.CompletionNotFound:
		e.log.Warn("Order vanished before completion",
			"order_id", order.ID,
			"tx_hash", transfer.TxHash)
	}
}

// isProcessed consults the cache first; only a datastore answer is trusted for a miss
func (e *Engine) isProcessed(ctx context.Context, transfer entities.ObservedTransfer) (bool, error) {
	if e.cache != nil {
		hit, err := e.cache.IsProcessed(ctx, transfer.Network, transfer.TxHash)
		if err != nil {
			e.log.Warn("Processed-hash cache lookup failed", "tx_hash", transfer.TxHash, "error", err)
		} else if hit {
			return true, nil
		}
	}

	processed, err := e.store.HasProcessedHash(ctx, transfer.TxHash)
	if err != nil {
		return false, err
	}
	if processed {
		e.markProcessed(ctx, transfer)
	}
	return processed, nil
}

func (e *Engine) markProcessed(ctx context.Context, transfer entities.ObservedTransfer) {
	if e.cache == nil {
		return
	}
	if err := e.cache.MarkProcessed(ctx, transfer.Network, transfer.TxHash); err != nil {
		e.log.Warn("Failed to cache processed hash", "tx_hash", transfer.TxHash, "error", err)
	}
}

func (e *Engine) writeFailed(ctx context.Context, cr *ChainReport, transfer entities.ObservedTransfer, order *entities.PaymentOrder, operation string, err error) {
	cr.WriteFailures++
	metrics.TransfersSkipped.WithLabelValues(string(cr.Network), skipError).Inc()
	metrics.WriteFailures.WithLabelValues(string(transfer.Network), operation).Inc()
	kv := []interface{}{
		"operation", operation,
		"network", transfer.Network,
		"tx_hash", transfer.TxHash,
		"error", err,
	}
	event := notification.Event{
		Type:       notification.EventWriteFailed,
		Network:    string(transfer.Network),
		TxHash:     transfer.TxHash,
		PaidAmount: &transfer.Amount,
		Operation:  operation,
		Error:      err.Error(),
		OccurredAt: e.now().UTC(),
	}
	if order != nil {
		kv = append(kv, "order_id", order.ID)
		event.OrderID = order.ID.String()
		event.AccountID = order.UserID.String()
		expected := order.Amount
		event.ExpectedAmount = &expected
	}
	e.log.Error("Reconciliation write failed", kv...)
	e.dispatch(event)
}

func (e *Engine) notify(order *entities.PaymentOrder, transfer entities.ObservedTransfer) {
	expected := order.Amount
	paid := transfer.Amount
	e.dispatch(notification.Event{
		Type:           notification.EventOrderCompleted,
		OrderID:        order.ID.String(),
		AccountID:      order.UserID.String(),
		Network:        string(transfer.Network),
		TxHash:         transfer.TxHash,
		ExpectedAmount: &expected,
		PaidAmount:     &paid,
		OccurredAt:     e.now().UTC(),
	})
}

// dispatch delivers asynchronously with its own deadline; failures never unwind the write
func (e *Engine) dispatch(event notification.Event) {
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.NotifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, event); err != nil {
			metrics.NotificationFailures.WithLabelValues(string(event.Type)).Inc()
			e.log.Warn("Notification delivery failed",
				"event", event.Type,
				"order_id", event.OrderID,
				"error", err)
		}
	}()
}

// Drain waits for in-flight notifications
func (e *Engine) Drain() {
	e.notifications.Wait()
}
