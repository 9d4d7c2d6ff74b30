package orchestrator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/contract"
)

// Query is the read-only façade over deployed agreements. Reads never submit
// transactions and may run concurrently with anything.
type Query struct {
	backend Backend
	binding *contract.Binding
}

// NewQuery creates a query façade over backend
func NewQuery(backend Backend) *Query {
	return &Query{backend: backend, binding: contract.MustNewBinding()}
}

// NetworkStatus reports the chain id, head block and current gas price
func (q *Query) NetworkStatus(ctx context.Context) (escrow.NetworkStatus, error) {
	var status escrow.NetworkStatus
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		status.ChainID, err = q.backend.ChainID(ctx)
		return transient("chain id", err)
	})
	g.Go(func() (err error) {
		status.BlockNumber, err = q.backend.BlockNumber(ctx)
		return transient("block number", err)
	})
	g.Go(func() (err error) {
		status.GasPrice, err = q.backend.SuggestGasPrice(ctx)
		return transient("gas price", err)
	})
	if err := g.Wait(); err != nil {
		return escrow.NetworkStatus{}, err
	}
	return status, nil
}

// BalanceOf returns the native balance of addr in wei
func (q *Query) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := q.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, transient("balance", err)
	}
	return bal, nil
}

// Exists reports whether an agreement is deployed at addr
func (q *Query) Exists(ctx context.Context, addr common.Address) (bool, error) {
	code, err := q.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, transient("code", err)
	}
	return len(code) > 0, nil
}

// Agreement returns the full view of the agreement at addr. The projections
// are fetched concurrently against the latest state.
func (q *Query) Agreement(ctx context.Context, addr common.Address) (*escrow.AgreementView, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return nil, err
	}

	view := &escrow.AgreementView{Address: addr}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		view.Info, err = q.info(gctx, addr)
		return err
	})
	g.Go(func() error {
		cols, err := q.columns(gctx, addr)
		if err != nil {
			return err
		}
		view.Requirements = cols.Requirements()
		return nil
	})
	g.Go(func() (err error) {
		view.Progress, err = q.progress(gctx, addr)
		return err
	})
	g.Go(func() (err error) {
		view.CanAutoComplete, err = q.canComplete(gctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// Info returns the contract-info tuple of the agreement at addr
func (q *Query) Info(ctx context.Context, addr common.Address) (escrow.ContractInfo, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return escrow.ContractInfo{}, err
	}
	return q.info(ctx, addr)
}

// Summary returns the compact summary of the agreement at addr
func (q *Query) Summary(ctx context.Context, addr common.Address) (escrow.Summary, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return escrow.Summary{}, err
	}
	out, err := q.call(ctx, addr, contract.FunctionGetSummary)
	if err != nil {
		return escrow.Summary{}, err
	}
	return q.binding.UnpackSummary(out)
}

// Requirement returns requirement index of the agreement at addr
func (q *Query) Requirement(ctx context.Context, addr common.Address, index uint64) (escrow.Requirement, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return escrow.Requirement{}, err
	}
	out, err := q.call(ctx, addr, contract.FunctionGetRequirement, new(big.Int).SetUint64(index))
	if err != nil {
		return escrow.Requirement{}, err
	}
	return q.binding.UnpackRequirement(index, out)
}

// Requirements returns every requirement of the agreement at addr in order
func (q *Query) Requirements(ctx context.Context, addr common.Address) ([]escrow.Requirement, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return nil, err
	}
	cols, err := q.columns(ctx, addr)
	if err != nil {
		return nil, err
	}
	return cols.Requirements(), nil
}

// Progress returns the completion percentage of the agreement at addr
func (q *Query) Progress(ctx context.Context, addr common.Address) (uint64, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return 0, err
	}
	return q.progress(ctx, addr)
}

// CanAutoComplete reports whether every requirement of a funded agreement is
// completed
func (q *Query) CanAutoComplete(ctx context.Context, addr common.Address) (bool, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return false, err
	}
	return q.canComplete(ctx, addr)
}

// Events returns the notifications the agreement at addr emitted from
// fromBlock on, oldest first
func (q *Query) Events(ctx context.Context, addr common.Address, fromBlock uint64) ([]escrow.EventRecord, error) {
	if err := q.requireAgreement(ctx, addr); err != nil {
		return nil, err
	}
	logs, err := q.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{addr},
	})
	if err != nil {
		return nil, transient("filter logs", err)
	}

	records := make([]escrow.EventRecord, 0, len(logs))
	for i := range logs {
		l := &logs[i]
		if l.Removed {
			continue
		}
		ev, err := q.binding.DecodeEvent(l)
		if err != nil {
			return nil, escrow.NewInternalError("failed to decode agreement log", err)
		}
		records = append(records, escrow.EventRecord{
			Name:        ev.EventName(),
			Args:        ev,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			LogIndex:    l.Index,
		})
	}
	return records, nil
}

func (q *Query) info(ctx context.Context, addr common.Address) (escrow.ContractInfo, error) {
	out, err := q.call(ctx, addr, contract.FunctionGetContractInfo)
	if err != nil {
		return escrow.ContractInfo{}, err
	}
	return q.binding.UnpackContractInfo(out)
}

func (q *Query) columns(ctx context.Context, addr common.Address) (escrow.RequirementColumns, error) {
	out, err := q.call(ctx, addr, contract.FunctionGetAllRequirements)
	if err != nil {
		return escrow.RequirementColumns{}, err
	}
	return q.binding.UnpackRequirements(out)
}

func (q *Query) progress(ctx context.Context, addr common.Address) (uint64, error) {
	out, err := q.call(ctx, addr, contract.FunctionGetProgress)
	if err != nil {
		return 0, err
	}
	return q.binding.UnpackProgress(out)
}

func (q *Query) canComplete(ctx context.Context, addr common.Address) (bool, error) {
	out, err := q.call(ctx, addr, contract.FunctionCanComplete)
	if err != nil {
		return false, err
	}
	return q.binding.UnpackCanComplete(out)
}

func (q *Query) requireAgreement(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return escrow.ErrInvalidAddress.WithDetail("address", addr.Hex())
	}
	ok, err := q.Exists(ctx, addr)
	if err != nil {
		return err
	}
	if !ok {
		return escrow.ErrNotFound.WithDetail("address", addr.Hex())
	}
	return nil
}

func (q *Query) call(ctx context.Context, addr common.Address, method string, args ...interface{}) ([]byte, error) {
	data, err := q.binding.Pack(method, args...)
	if err != nil {
		return nil, escrow.NewInternalError("failed to pack "+method, err)
	}
	out, err := q.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		if revert, ok := q.binding.RevertFromError(err); ok {
			return nil, revert
		}
		return nil, transient(method, err)
	}
	return out, nil
}

// transient classifies a node failure as retryable
func transient(what string, err error) error {
	if err == nil {
		return nil
	}
	return escrow.NewTransientError(what+" failed", err)
}
