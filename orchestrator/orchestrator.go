// Package orchestrator drives escrow agreements on an eventually-confirmed
// execution environment. It validates and pre-checks every operation,
// serializes submissions per signing identity, estimates gas with a safety
// margin, waits for confirmation, retries transient failures and post-checks
// the agreement once the transaction is mined.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
)

// Orchestrator submits state-changing agreement operations
type Orchestrator struct {
	backend Backend
	binding *contract.Binding
	query   *Query
	cache   *escrow.SubmissionCache
	cfg     Config
	log     *logrus.Entry

	chainMu sync.Mutex
	chainID *big.Int

	mu         sync.Mutex
	identities map[common.Address]*sync.Mutex
	nonces     map[common.Address]uint64

	hooksMu              sync.RWMutex
	beforeSubmitHooks    []escrow.BeforeSubmitHook
	afterSubmitHooks     []escrow.AfterSubmitHook
	onSubmitFailureHooks []escrow.OnSubmitFailureHook
	onRetryHooks         []escrow.OnRetryHook
}

// New creates an orchestrator over backend
func New(backend Backend, cfg Config) (*Orchestrator, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		backend:    backend,
		binding:    contract.MustNewBinding(),
		query:      NewQuery(backend),
		cache:      escrow.NewSubmissionCache(cfg.CacheTTL),
		cfg:        cfg,
		log:        cfg.Logger,
		identities: make(map[common.Address]*sync.Mutex),
		nonces:     make(map[common.Address]uint64),
	}, nil
}

// Query returns the read façade sharing this orchestrator's backend
func (o *Orchestrator) Query() *Query {
	return o.query
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

// OnBeforeSubmit registers a hook run after the pre-check, before submission
func (o *Orchestrator) OnBeforeSubmit(hook escrow.BeforeSubmitHook) *Orchestrator {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.beforeSubmitHooks = append(o.beforeSubmitHooks, hook)
	return o
}

// OnAfterSubmit registers a hook run after confirmation and post-check
func (o *Orchestrator) OnAfterSubmit(hook escrow.AfterSubmitHook) *Orchestrator {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.afterSubmitHooks = append(o.afterSubmitHooks, hook)
	return o
}

// OnSubmitFailure registers a hook run when an operation fails for good
func (o *Orchestrator) OnSubmitFailure(hook escrow.OnSubmitFailureHook) *Orchestrator {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.onSubmitFailureHooks = append(o.onSubmitFailureHooks, hook)
	return o
}

// OnRetry registers a hook run before each retry
func (o *Orchestrator) OnRetry(hook escrow.OnRetryHook) *Orchestrator {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.onRetryHooks = append(o.onRetryHooks, hook)
	return o
}

// ============================================================================
// Operations
// ============================================================================

// CallOption tunes a single operation
type CallOption func(*callOptions)

type callOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey makes a repeated call with the same key, identity and
// operation return the first confirmed result instead of submitting again
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) { o.idempotencyKey = key }
}

// Deploy creates a new agreement with id as arbiter. The returned result
// carries the agreement address.
func (o *Orchestrator) Deploy(ctx context.Context, id Identity, payer, beneficiary common.Address, descriptions []string, opts ...CallOption) (*escrow.TxResult, error) {
	switch {
	case payer == (common.Address{}) || beneficiary == (common.Address{}):
		return nil, escrow.ErrInvalidParty.WithDetail("reason", "zero address")
	case payer == beneficiary:
		return nil, escrow.ErrInvalidParty.WithDetail("reason", "payer and beneficiary must differ")
	case len(descriptions) == 0 || len(descriptions) > escrow.MaxRequirements:
		return nil, escrow.ErrInvalidRequirements.WithDetail("count", len(descriptions))
	}
	if len(o.cfg.Bytecode) == 0 {
		return nil, escrow.NewInternalError("no agreement bytecode configured", nil)
	}
	data, err := o.binding.DeployData(o.cfg.Bytecode, payer, beneficiary, descriptions)
	if err != nil {
		return nil, escrow.ErrInvalidRequirements.WithDetail("reason", err.Error())
	}

	return o.execute(ctx, id, &operation{
		op:     escrow.OpDeploy,
		data:   data,
		deploy: true,
	}, opts)
}

// Deposit funds the agreement with amount wei from id, who must be the payer
func (o *Orchestrator) Deposit(ctx context.Context, id Identity, agreement common.Address, amount *big.Int, opts ...CallOption) (*escrow.TxResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, escrow.ErrInvalidAmount
	}
	data, err := o.binding.PackDeposit()
	if err != nil {
		return nil, escrow.NewInternalError("failed to pack deposit", err)
	}
	return o.execute(ctx, id, &operation{
		op:        escrow.OpDeposit,
		agreement: agreement,
		value:     new(big.Int).Set(amount),
		data:      data,
		precheck: func(ctx context.Context, info escrow.ContractInfo) error {
			if id.Address() != info.Payer {
				return escrow.ErrUnauthorized.WithDetail("caller", id.Address().Hex())
			}
			if info.State != escrow.StateCreated {
				return escrow.ErrInvalidState.WithDetail("state", info.State.String())
			}
			bal, err := o.query.BalanceOf(ctx, id.Address())
			if err != nil {
				return err
			}
			if bal.Cmp(amount) < 0 {
				return escrow.ErrInsufficientFunds.
					WithDetail("address", id.Address().Hex()).
					WithDetail("balance", bal.String()).
					WithDetail("required", amount.String())
			}
			return nil
		},
	}, opts)
}

// CompleteRequirement certifies requirement index as id, who must be the
// arbiter. Completing the last requirement settles the agreement.
func (o *Orchestrator) CompleteRequirement(ctx context.Context, id Identity, agreement common.Address, index uint64, opts ...CallOption) (*escrow.TxResult, error) {
	data, err := o.binding.PackCompleteRequirement(index)
	if err != nil {
		return nil, escrow.NewInternalError("failed to pack completion", err)
	}
	return o.execute(ctx, id, &operation{
		op:        escrow.OpComplete,
		agreement: agreement,
		index:     &index,
		data:      data,
		precheck: func(ctx context.Context, info escrow.ContractInfo) error {
			if id.Address() != info.Arbiter {
				return escrow.ErrUnauthorized.WithDetail("caller", id.Address().Hex())
			}
			if info.State != escrow.StateInProgress {
				return escrow.ErrInvalidState.WithDetail("state", info.State.String())
			}
			if index >= info.TotalRequirements {
				return escrow.ErrRequirementNotFound.WithDetail("index", index)
			}
			req, err := o.query.Requirement(ctx, agreement, index)
			if err != nil {
				return err
			}
			if req.Completed {
				return escrow.ErrAlreadyCompleted.WithDetail("index", index)
			}
			return nil
		},
	}, opts)
}

// Cancel cancels the agreement as id, who must be the arbiter, refunding any
// custody balance to the payer
func (o *Orchestrator) Cancel(ctx context.Context, id Identity, agreement common.Address, opts ...CallOption) (*escrow.TxResult, error) {
	data, err := o.binding.PackCancel()
	if err != nil {
		return nil, escrow.NewInternalError("failed to pack cancel", err)
	}
	return o.execute(ctx, id, &operation{
		op:        escrow.OpCancel,
		agreement: agreement,
		data:      data,
		precheck: func(ctx context.Context, info escrow.ContractInfo) error {
			if id.Address() != info.Arbiter {
				return escrow.ErrUnauthorized.WithDetail("caller", id.Address().Hex())
			}
			if info.State != escrow.StateCreated && info.State != escrow.StateInProgress {
				return escrow.ErrInvalidState.WithDetail("state", info.State.String())
			}
			return nil
		},
	}, opts)
}

// EmergencyWithdraw sweeps any residual balance of a cancelled agreement to
// its payer. The result's Amount is what the transaction actually moved, read
// from the agreement balance before and after its block.
func (o *Orchestrator) EmergencyWithdraw(ctx context.Context, id Identity, agreement common.Address, opts ...CallOption) (*escrow.TxResult, error) {
	data, err := o.binding.PackEmergencyWithdraw()
	if err != nil {
		return nil, escrow.NewInternalError("failed to pack emergency withdraw", err)
	}
	return o.execute(ctx, id, &operation{
		op:        escrow.OpEmergencyWithdraw,
		agreement: agreement,
		data:      data,
		precheck: func(ctx context.Context, info escrow.ContractInfo) error {
			if id.Address() != info.Arbiter {
				return escrow.ErrUnauthorized.WithDetail("caller", id.Address().Hex())
			}
			if info.State != escrow.StateCancelled {
				return escrow.ErrInvalidState.WithDetail("state", info.State.String())
			}
			return nil
		},
	}, opts)
}

// CompleteInitial completes the first n requirements of a funded agreement
// that are still pending, never the last one, so it never settles. Already
// completed requirements are skipped. A failed completion is logged and the
// remaining ones are still attempted; the confirmed results come back together
// with every failure joined into one error.
func (o *Orchestrator) CompleteInitial(ctx context.Context, id Identity, agreement common.Address, n uint64) ([]*escrow.TxResult, error) {
	reqs, err := o.query.Requirements(ctx, agreement)
	if err != nil {
		return nil, err
	}
	total := uint64(len(reqs))
	if total <= 1 || n == 0 {
		return nil, nil
	}
	limit := min(n, total-1)

	var results []*escrow.TxResult
	var failures []error
	for _, req := range reqs[:limit] {
		if req.Completed {
			continue
		}
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		result, err := o.CompleteRequirement(ctx, id, agreement, req.Index)
		if err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"agreement":   agreement.Hex(),
				"requirement": req.Index,
			}).Warn("initial completion failed, continuing")
			failures = append(failures, fmt.Errorf("requirement %d: %w", req.Index, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(failures...)
}

// ============================================================================
// Execution
// ============================================================================

type operation struct {
	op        escrow.Operation
	agreement common.Address
	index     *uint64
	value     *big.Int
	data      []byte
	deploy    bool
	precheck  func(ctx context.Context, info escrow.ContractInfo) error
}

func (op *operation) to() *common.Address {
	if op.deploy {
		return nil
	}
	addr := op.agreement
	return &addr
}

func (o *Orchestrator) execute(ctx context.Context, id Identity, op *operation, opts []CallOption) (*escrow.TxResult, error) {
	if id == nil || id.Address() == (common.Address{}) {
		return nil, escrow.ErrInvalidAddress.WithDetail("reason", "identity required")
	}
	if !op.deploy && op.agreement == (common.Address{}) {
		return nil, escrow.ErrInvalidAddress.WithDetail("address", op.agreement.Hex())
	}
	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.idempotencyKey != "" {
		key := escrow.IdempotencyKey(id.Address(), op.op, options.idempotencyKey)
		return o.guard(ctx, key, true, func() (*escrow.TxResult, error) {
			return o.executeOnce(ctx, id, op)
		})
	}
	return o.executeOnce(ctx, id, op)
}

func (o *Orchestrator) executeOnce(ctx context.Context, id Identity, op *operation) (*escrow.TxResult, error) {
	if op.deploy {
		return o.run(ctx, id, op)
	}
	// concurrent duplicates of a logical operation wait for each other and
	// then run their own pre-check
	key := escrow.OperationKey(op.agreement, op.op, op.index)
	return o.guard(ctx, key, false, func() (*escrow.TxResult, error) {
		return o.run(ctx, id, op)
	})
}

// guard runs fn once per key at a time. With cache set, a confirmed result is
// kept for the cache TTL and returned to later callers.
func (o *Orchestrator) guard(ctx context.Context, key string, cache bool, fn func() (*escrow.TxResult, error)) (*escrow.TxResult, error) {
	for {
		status, cached, done := o.cache.CheckAndMark(key)
		switch status {
		case escrow.StatusCached:
			o.log.WithField("key", key).Debug("returning cached result")
			return cached, nil
		case escrow.StatusInFlight:
			result, err := o.cache.WaitForResult(ctx, key, done)
			if err != nil {
				return nil, err
			}
			if result != nil && cache {
				return result, nil
			}
			continue
		}

		result, err := fn()
		if err == nil && cache {
			o.cache.Complete(key, result, done)
		} else {
			o.cache.Release(key, done)
		}
		return result, err
	}
}

func (o *Orchestrator) run(ctx context.Context, id Identity, op *operation) (*escrow.TxResult, error) {
	start := time.Now()
	hookCtx := escrow.SubmitContext{
		Ctx:              ctx,
		OperationID:      uuid.NewString(),
		Operation:        op.op,
		Agreement:        op.agreement,
		Identity:         id.Address(),
		RequirementIndex: op.index,
		Amount:           op.value,
		Timestamp:        start,
	}
	log := o.log.WithFields(logrus.Fields{
		"operation":    op.op,
		"operation_id": hookCtx.OperationID,
		"identity":     id.Address().Hex(),
	})
	if !op.deploy {
		log = log.WithField("agreement", op.agreement.Hex())
	}

	fail := func(err error) (*escrow.TxResult, error) {
		failure := escrow.SubmitFailureContext{SubmitContext: hookCtx, Error: err, Duration: time.Since(start)}
		for _, hook := range o.failureHooks() {
			if hookErr := hook(failure); hookErr != nil {
				log.WithError(hookErr).Warn("failure hook returned an error")
			}
		}
		log.WithError(err).WithField("kind", escrow.KindOf(err)).Info("operation failed")
		return nil, err
	}

	// advisory pre-check against the latest state
	var before escrow.ContractInfo
	if !op.deploy {
		info, err := o.query.Info(ctx, op.agreement)
		if err != nil {
			return fail(err)
		}
		if err := op.precheck(ctx, info); err != nil {
			return fail(err)
		}
		before = info
	}

	for _, hook := range o.beforeHooks() {
		result, err := hook(hookCtx)
		if err != nil {
			return fail(err)
		}
		if result != nil && result.Abort {
			return fail(escrow.AbortedError(result.Reason))
		}
	}

	notify := func(err error, attempt int, delay time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("retrying after transient failure")
		retry := escrow.RetryContext{SubmitContext: hookCtx, Attempt: attempt, Error: err, Delay: delay}
		for _, hook := range o.retryHooks() {
			hook(retry)
		}
	}
	pending := &pendingTx{}
	result, attempts, err := escrow.Retry(ctx, o.cfg.Retry, func(attempt int) (*escrow.TxResult, error) {
		return o.submit(ctx, id, op, pending, log.WithField("attempt", attempt))
	}, notify)
	if err != nil {
		return fail(err)
	}

	result.OperationID = hookCtx.OperationID
	result.Operation = op.op
	result.Sender = id.Address()
	result.Attempts = attempts
	result.RequirementIndex = op.index
	if op.value != nil {
		result.Amount = new(big.Int).Set(op.value)
	}
	o.postCheck(ctx, op, before, result, log)

	resultCtx := escrow.SubmitResultContext{SubmitContext: hookCtx, Result: result, Duration: time.Since(start)}
	for _, hook := range o.afterHooks() {
		if err := hook(resultCtx); err != nil {
			log.WithError(err).Warn("after hook returned an error")
		}
	}
	log.WithFields(logrus.Fields{
		"tx":       result.TxHash.Hex(),
		"block":    result.BlockNumber,
		"gas_used": result.GasUsed,
		"state":    result.State,
	}).Info("operation confirmed")
	return result, nil
}

// postCheck re-reads the agreement after confirmation. A failed read is
// logged, the transaction is already final.
func (o *Orchestrator) postCheck(ctx context.Context, op *operation, before escrow.ContractInfo, result *escrow.TxResult, log *logrus.Entry) {
	info, err := o.query.Info(ctx, result.Agreement)
	if err != nil {
		log.WithError(err).Warn("post-check read failed")
		return
	}
	result.State = info.State
	result.Settled = op.op == escrow.OpComplete && info.State == escrow.StateCompleted

	switch op.op {
	case escrow.OpCancel:
		for _, ev := range result.Events {
			if c, ok := ev.(escrow.AgreementCancelled); ok {
				refunded := c.RefundedTo
				result.RefundedTo = &refunded
				result.Amount = c.Amount
			}
		}
	case escrow.OpEmergencyWithdraw:
		payer := info.Payer
		result.RefundedTo = &payer
		result.Amount = o.swept(ctx, result, before.Balance, log)
	case escrow.OpComplete:
		if result.Settled {
			for _, ev := range result.Events {
				if c, ok := ev.(escrow.AgreementCompleted); ok {
					result.Amount = c.Amount
				}
			}
		}
	}
}

// swept is the drop of the agreement's balance across the block that mined
// result. The pre-check balance stands in when the node cannot serve the
// historical reads.
func (o *Orchestrator) swept(ctx context.Context, result *escrow.TxResult, fallback *big.Int, log *logrus.Entry) *big.Int {
	if result.BlockNumber > 0 {
		prev, errPrev := o.backend.BalanceAt(ctx, result.Agreement, new(big.Int).SetUint64(result.BlockNumber-1))
		after, errAfter := o.backend.BalanceAt(ctx, result.Agreement, new(big.Int).SetUint64(result.BlockNumber))
		if errPrev == nil && errAfter == nil {
			amount := new(big.Int).Sub(prev, after)
			if amount.Sign() < 0 {
				amount.SetInt64(0)
			}
			return amount
		}
		log.WithError(errors.Join(errPrev, errAfter)).Warn("historical balance read failed, reporting pre-check balance")
	}
	if fallback == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(fallback)
}

func (o *Orchestrator) beforeHooks() []escrow.BeforeSubmitHook {
	o.hooksMu.RLock()
	defer o.hooksMu.RUnlock()
	return o.beforeSubmitHooks
}

func (o *Orchestrator) afterHooks() []escrow.AfterSubmitHook {
	o.hooksMu.RLock()
	defer o.hooksMu.RUnlock()
	return o.afterSubmitHooks
}

func (o *Orchestrator) failureHooks() []escrow.OnSubmitFailureHook {
	o.hooksMu.RLock()
	defer o.hooksMu.RUnlock()
	return o.onSubmitFailureHooks
}

func (o *Orchestrator) retryHooks() []escrow.OnRetryHook {
	o.hooksMu.RLock()
	defer o.hooksMu.RUnlock()
	return o.onRetryHooks
}
