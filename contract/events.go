package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	escrow "github.com/tripartite/escrow"
)

// EncodeEvent builds the log an agreement at addr emits for ev
func (b *Binding) EncodeEvent(addr common.Address, ev escrow.Event) (*types.Log, error) {
	event, ok := b.abi.Events[ev.EventName()]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", ev.EventName())
	}

	var (
		topics = []common.Hash{event.ID}
		values []interface{}
	)
	switch e := ev.(type) {
	case escrow.FundsDeposited:
		topics = append(topics, addressTopic(e.Payer))
		values = []interface{}{orZero(e.Amount), new(big.Int).SetUint64(e.Timestamp)}
	case escrow.RequirementCompleted:
		topics = append(topics, common.BigToHash(new(big.Int).SetUint64(e.Index)), addressTopic(e.Arbiter))
		values = []interface{}{e.Description, new(big.Int).SetUint64(e.Timestamp)}
	case escrow.AgreementCompleted:
		topics = append(topics, addressTopic(e.Beneficiary))
		values = []interface{}{orZero(e.Amount), new(big.Int).SetUint64(e.Timestamp)}
	case escrow.AgreementCancelled:
		topics = append(topics, addressTopic(e.RefundedTo))
		values = []interface{}{orZero(e.Amount), new(big.Int).SetUint64(e.Timestamp)}
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}

	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", event.Name, err)
	}
	return &types.Log{Address: addr, Topics: topics, Data: data}, nil
}

// DecodeEvent decodes an agreement log. Logs of other contracts or unknown
// topics return an error.
func (b *Binding) DecodeEvent(log *types.Log) (escrow.Event, error) {
	if log == nil || len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	event, err := b.abi.EventByID(log.Topics[0])
	if err != nil {
		return nil, err
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
	}

	errs := &fieldErrors{}
	topic := func(i int) common.Hash {
		if i >= len(log.Topics) {
			errs.keep(fmt.Errorf("%s: missing topic %d", event.Name, i))
			return common.Hash{}
		}
		return log.Topics[i]
	}

	var ev escrow.Event
	switch event.Name {
	case escrow.EventFundsDeposited:
		ev = escrow.FundsDeposited{
			Payer:     common.BytesToAddress(topic(1).Bytes()),
			Amount:    errs.amount(values, 0),
			Timestamp: errs.u64(values, 1),
		}
	case escrow.EventRequirementCompleted:
		ev = escrow.RequirementCompleted{
			Index:       topic(1).Big().Uint64(),
			Arbiter:     common.BytesToAddress(topic(2).Bytes()),
			Description: errs.str(values, 0),
			Timestamp:   errs.u64(values, 1),
		}
	case escrow.EventAgreementCompleted:
		ev = escrow.AgreementCompleted{
			Beneficiary: common.BytesToAddress(topic(1).Bytes()),
			Amount:      errs.amount(values, 0),
			Timestamp:   errs.u64(values, 1),
		}
	case escrow.EventAgreementCancelled:
		ev = escrow.AgreementCancelled{
			RefundedTo: common.BytesToAddress(topic(1).Bytes()),
			Amount:     errs.amount(values, 0),
			Timestamp:  errs.u64(values, 1),
		}
	default:
		return nil, fmt.Errorf("unsupported event %q", event.Name)
	}
	if errs.err != nil {
		return nil, errs.err
	}
	return ev, nil
}

// DecodeEvents decodes the logs emitted by the agreement at addr, skipping
// logs of any other address
func (b *Binding) DecodeEvents(addr common.Address, logs []*types.Log) ([]escrow.Event, error) {
	var out []escrow.Event
	for _, l := range logs {
		if l.Address != addr {
			continue
		}
		ev, err := b.DecodeEvent(l)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
