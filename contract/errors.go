package contract

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	escrow "github.com/tripartite/escrow"
)

// ErrCodeReverted is the code of a revert that carries no recognizable reason
const ErrCodeReverted = "execution_reverted"

var (
	// Error(string) and Panic(uint256) selectors
	revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector  = []byte{0x4e, 0x48, 0x7b, 0x71}

	stringArgs = mustArguments("string")
)

var legacyReasons = map[string]*escrow.Error{
	legacyOnlyPayer:          escrow.ErrUnauthorized,
	legacyOnlyArbiter:        escrow.ErrUnauthorized,
	legacyInvalidAmount:      escrow.ErrInvalidAmount,
	legacyAlreadyCompleted:   escrow.ErrAlreadyCompleted,
	legacyCannotCancel:       escrow.ErrInvalidState,
	legacyInvalidIndex:       escrow.ErrRequirementNotFound,
	legacyInvalidPayer:       escrow.ErrInvalidParty,
	legacyInvalidBeneficiary: escrow.ErrInvalidParty,
	legacySameParty:          escrow.ErrInvalidParty,
	legacyNoRequirements:     escrow.ErrInvalidRequirements,
	legacyOnlyCancelled:      escrow.ErrInvalidState,
}

// EncodeRevert encodes a domain error as revert data. Taxonomy errors map to
// the contract's custom errors; anything else becomes Error(string).
func (b *Binding) EncodeRevert(err error) []byte {
	var e *escrow.Error
	if !errors.As(err, &e) {
		return encodeReason(err.Error())
	}

	var (
		name string
		args []interface{}
	)
	switch e.Code {
	case escrow.ErrCodeUnauthorized:
		name = ErrorUnauthorized
		caller, _ := e.Details["caller"].(string)
		args = []interface{}{common.HexToAddress(caller)}
	case escrow.ErrCodeInvalidState:
		name = ErrorInvalidState
		state, _ := e.Details["state"].(string)
		parsed, _ := escrow.ParseState(state)
		args = []interface{}{uint8(parsed)}
	case escrow.ErrCodeInvalidAmount:
		name = ErrorInvalidAmount
	case escrow.ErrCodeRequirementNotFound:
		name = ErrorRequirementNotFound
		args = []interface{}{new(big.Int).SetUint64(detailUint(e.Details, "index"))}
	case escrow.ErrCodeAlreadyCompleted:
		name = ErrorAlreadyCompleted
		args = []interface{}{new(big.Int).SetUint64(detailUint(e.Details, "index"))}
	case escrow.ErrCodeInvalidParty:
		name = ErrorInvalidParty
	case escrow.ErrCodeInvalidRequirements:
		name = ErrorInvalidRequirements
		args = []interface{}{new(big.Int).SetUint64(detailUint(e.Details, "count"))}
	default:
		return encodeReason(e.Message)
	}

	abiErr := b.abi.Errors[name]
	packed, perr := abiErr.Inputs.Pack(args...)
	if perr != nil {
		return encodeReason(e.Message)
	}
	return append(append([]byte{}, abiErr.ID[:4]...), packed...)
}

// DecodeRevert translates revert data into the escrow error taxonomy
func (b *Binding) DecodeRevert(data []byte) error {
	if len(data) < 4 {
		return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "execution reverted without reason", nil)
	}
	selector := data[:4]

	switch {
	case bytes.Equal(selector, revertSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "malformed revert reason", nil)
		}
		return reasonError(reason)
	case bytes.Equal(selector, panicSelector):
		return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "contract panicked",
			map[string]interface{}{"data": hexutil.Encode(data)})
	}

	for name, abiErr := range b.abi.Errors {
		if !bytes.Equal(selector, abiErr.ID[:4]) {
			continue
		}
		values, err := abiErr.Inputs.Unpack(data[4:])
		if err != nil {
			return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "malformed custom error "+name, nil)
		}
		return customError(name, values)
	}

	return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "unknown revert selector",
		map[string]interface{}{"data": hexutil.Encode(data)})
}

// RevertFromError extracts and decodes the revert carried by an RPC error.
// The second return is false when err is not a revert at all.
func (b *Binding) RevertFromError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := revertData(dataErr.ErrorData()); ok {
			return b.DecodeRevert(data), true
		}
	}

	msg := err.Error()
	if !strings.Contains(msg, "revert") {
		return nil, false
	}
	// some nodes only report the reason inside the message
	for reason, sentinel := range legacyReasons {
		if strings.Contains(msg, reason) {
			return sentinel.WithDetail("reason", reason), true
		}
	}
	return escrow.NewError(escrow.KindInternal, ErrCodeReverted, msg, nil), true
}

func revertData(v interface{}) ([]byte, bool) {
	switch d := v.(type) {
	case string:
		data, err := hexutil.Decode(d)
		return data, err == nil
	case hexutil.Bytes:
		return d, true
	case []byte:
		return d, true
	}
	return nil, false
}

func customError(name string, values []interface{}) error {
	errs := &fieldErrors{}
	var out *escrow.Error
	switch name {
	case ErrorUnauthorized:
		out = escrow.ErrUnauthorized.WithDetail("caller", errs.addr(values, 0).Hex())
	case ErrorInvalidState:
		out = escrow.ErrInvalidState.WithDetail("state", escrow.State(errs.u8(values, 0)).String())
	case ErrorInvalidAmount:
		out = escrow.ErrInvalidAmount
	case ErrorRequirementNotFound:
		out = escrow.ErrRequirementNotFound.WithDetail("index", errs.u64(values, 0))
	case ErrorAlreadyCompleted:
		out = escrow.ErrAlreadyCompleted.WithDetail("index", errs.u64(values, 0))
	case ErrorInvalidParty:
		out = escrow.ErrInvalidParty
	case ErrorInvalidRequirements:
		out = escrow.ErrInvalidRequirements.WithDetail("count", errs.u64(values, 0))
	default:
		return escrow.NewError(escrow.KindInternal, ErrCodeReverted, "unmapped custom error "+name, nil)
	}
	if errs.err != nil {
		return escrow.NewError(escrow.KindInternal, ErrCodeReverted, fmt.Sprintf("malformed %s: %v", name, errs.err), nil)
	}
	return out
}

func reasonError(reason string) error {
	if sentinel, ok := legacyReasons[reason]; ok {
		return sentinel.WithDetail("reason", reason)
	}
	return escrow.NewError(escrow.KindInternal, ErrCodeReverted, reason, map[string]interface{}{"reason": reason})
}

func encodeReason(reason string) []byte {
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		return append([]byte{}, revertSelector...)
	}
	return append(append([]byte{}, revertSelector...), packed...)
}

func detailUint(details map[string]interface{}, key string) uint64 {
	switch v := details[key].(type) {
	case uint64:
		return v
	case int:
		if v >= 0 {
			return uint64(v)
		}
	case float64:
		if v >= 0 {
			return uint64(v)
		}
	}
	return 0
}

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}
