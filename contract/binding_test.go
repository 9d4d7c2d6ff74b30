package contract

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escrow "github.com/tripartite/escrow"
)

var (
	arbiter     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	payer       = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	beneficiary = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	agreement   = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func TestBinding_DeployData(t *testing.T) {
	b := MustNewBinding()
	bytecode := []byte{0x60, 0x80, 0x60, 0x40}

	data, err := b.DeployData(bytecode, payer, beneficiary, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, bytecode, data[:len(bytecode)])

	args, err := b.UnpackConstructor(data[len(bytecode):])
	require.NoError(t, err)
	assert.Equal(t, ConstructorArgs{Payer: payer, Beneficiary: beneficiary, Requirements: []string{"A", "B"}}, args)

	_, err = b.DeployData(nil, payer, beneficiary, []string{"A"})
	assert.Error(t, err)
}

func TestBinding_DecodeCall(t *testing.T) {
	b := MustNewBinding()

	data, err := b.PackCompleteRequirement(7)
	require.NoError(t, err)

	method, args, err := b.DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, FunctionCompleteRequirement, method.Name)
	require.Len(t, args, 1)
	assert.Equal(t, int64(7), args[0].(*big.Int).Int64())

	deposit, err := b.PackDeposit()
	require.NoError(t, err)
	method, _, err = b.DecodeCall(deposit)
	require.NoError(t, err)
	assert.True(t, method.IsPayable())

	_, _, err = b.DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func TestBinding_ContractInfo(t *testing.T) {
	b := MustNewBinding()
	info := escrow.ContractInfo{
		Arbiter:           arbiter,
		Payer:             payer,
		Beneficiary:       beneficiary,
		DepositedAmount:   big.NewInt(1_000_000),
		State:             escrow.StateInProgress,
		TotalRequirements: 3,
		CompletedCount:    1,
		Balance:           big.NewInt(1_000_000),
		CreatedAt:         1_700_000_000,
	}

	data, err := b.PackContractInfo(info)
	require.NoError(t, err)
	// ten static words
	assert.Len(t, data, 10*32)

	got, err := b.UnpackContractInfo(data)
	require.NoError(t, err)
	assert.Equal(t, info.Arbiter, got.Arbiter)
	assert.Equal(t, escrow.StateInProgress, got.State)
	assert.Equal(t, uint64(33), got.Progress())
	assert.Equal(t, 0, got.Balance.Cmp(info.Balance))
	assert.Zero(t, got.CompletedAt)
}

func TestBinding_Requirements(t *testing.T) {
	b := MustNewBinding()
	cols := escrow.RequirementColumns{
		Descriptions: []string{"design", "build"},
		Completed:    []bool{true, false},
		CompletedAt:  []uint64{1_700_000_100, 0},
	}

	data, err := b.PackRequirements(cols)
	require.NoError(t, err)
	got, err := b.UnpackRequirements(data)
	require.NoError(t, err)
	assert.Equal(t, cols, got)

	data, err = b.PackRequirement(escrow.Requirement{Index: 1, Description: "build"})
	require.NoError(t, err)
	req, err := b.UnpackRequirement(1, data)
	require.NoError(t, err)
	assert.Equal(t, escrow.Requirement{Index: 1, Description: "build"}, req)
}

func TestBinding_Events(t *testing.T) {
	b := MustNewBinding()

	events := []escrow.Event{
		escrow.FundsDeposited{Payer: payer, Amount: big.NewInt(42), Timestamp: 100},
		escrow.RequirementCompleted{Index: 2, Description: "ship", Arbiter: arbiter, Timestamp: 101},
		escrow.AgreementCompleted{Beneficiary: beneficiary, Amount: big.NewInt(42), Timestamp: 101},
		escrow.AgreementCancelled{RefundedTo: payer, Amount: big.NewInt(0), Timestamp: 102},
	}

	for _, ev := range events {
		t.Run(ev.EventName(), func(t *testing.T) {
			log, err := b.EncodeEvent(agreement, ev)
			require.NoError(t, err)
			assert.Equal(t, agreement, log.Address)
			assert.Equal(t, b.ABI().Events[ev.EventName()].ID, log.Topics[0])

			decoded, err := b.DecodeEvent(log)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%+v", ev), fmt.Sprintf("%+v", decoded))
		})
	}

	// indexed requirement id sits in the second topic
	log, err := b.EncodeEvent(agreement, events[1])
	require.NoError(t, err)
	require.Len(t, log.Topics, 3)
	assert.Equal(t, int64(2), log.Topics[1].Big().Int64())
}

func TestBinding_RevertRoundTrip(t *testing.T) {
	b := MustNewBinding()

	tests := []struct {
		name string
		err  error
		want *escrow.Error
	}{
		{"unauthorized", escrow.ErrUnauthorized.WithDetail("caller", payer.Hex()), escrow.ErrUnauthorized},
		{"invalid state", escrow.ErrInvalidState.WithDetail("state", "COMPLETED"), escrow.ErrInvalidState},
		{"invalid amount", escrow.ErrInvalidAmount, escrow.ErrInvalidAmount},
		{"requirement not found", escrow.ErrRequirementNotFound.WithDetail("index", uint64(9)), escrow.ErrRequirementNotFound},
		{"already completed", escrow.ErrAlreadyCompleted.WithDetail("index", uint64(1)), escrow.ErrAlreadyCompleted},
		{"invalid party", escrow.ErrInvalidParty, escrow.ErrInvalidParty},
		{"invalid requirements", escrow.ErrInvalidRequirements.WithDetail("count", 51), escrow.ErrInvalidRequirements},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := b.EncodeRevert(tt.err)
			decoded := b.DecodeRevert(data)
			assert.ErrorIs(t, decoded, tt.want)
			assert.Equal(t, tt.want.Kind, escrow.KindOf(decoded))
		})
	}

	decoded := b.DecodeRevert(b.EncodeRevert(escrow.ErrAlreadyCompleted.WithDetail("index", uint64(4))))
	var e *escrow.Error
	require.True(t, errors.As(decoded, &e))
	assert.Equal(t, uint64(4), e.Details["index"])

	decoded = b.DecodeRevert(b.EncodeRevert(escrow.ErrInvalidState.WithDetail("state", "CANCELLED")))
	require.True(t, errors.As(decoded, &e))
	assert.Equal(t, "CANCELLED", e.Details["state"])
}

func TestBinding_LegacyReasons(t *testing.T) {
	b := MustNewBinding()

	tests := []struct {
		reason string
		want   *escrow.Error
	}{
		{"Solo Empresa1 puede ejecutar esta funcion", escrow.ErrUnauthorized},
		{"Solo el arbitro puede ejecutar esta funcion", escrow.ErrUnauthorized},
		{"El monto debe ser mayor a 0", escrow.ErrInvalidAmount},
		{"Requerimiento ya completado", escrow.ErrAlreadyCompleted},
		{"No se puede cancelar en este estado", escrow.ErrInvalidState},
		{"ID de requerimiento invalido", escrow.ErrRequirementNotFound},
		{"Las empresas deben ser diferentes", escrow.ErrInvalidParty},
		{"Debe haber al menos un requerimiento", escrow.ErrInvalidRequirements},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			got := b.DecodeRevert(encodeReason(tt.reason))
			if !errors.Is(got, tt.want) {
				t.Errorf("DecodeRevert() = %v, want %v", got, tt.want)
			}
		})
	}

	unknown := b.DecodeRevert(encodeReason("something else"))
	assert.Equal(t, escrow.KindInternal, escrow.KindOf(unknown))
	assert.Contains(t, unknown.Error(), "something else")
}

func TestBinding_RevertFromError(t *testing.T) {
	b := MustNewBinding()

	t.Run("rpc data error", func(t *testing.T) {
		data := hexutil.Encode(b.EncodeRevert(escrow.ErrAlreadyCompleted.WithDetail("index", uint64(0))))
		err := fmt.Errorf("estimate gas: %w", &dataError{msg: "execution reverted", data: data})

		got, ok := b.RevertFromError(err)
		require.True(t, ok)
		assert.ErrorIs(t, got, escrow.ErrAlreadyCompleted)
	})

	t.Run("reason in message", func(t *testing.T) {
		err := errors.New("execution reverted: Solo el arbitro puede ejecutar esta funcion")
		got, ok := b.RevertFromError(err)
		require.True(t, ok)
		assert.ErrorIs(t, got, escrow.ErrUnauthorized)
	})

	t.Run("not a revert", func(t *testing.T) {
		_, ok := b.RevertFromError(errors.New("dial tcp 127.0.0.1:8545: connection refused"))
		assert.False(t, ok)
	})
}

func TestParseArtifact(t *testing.T) {
	a, err := ParseArtifact([]byte(`{"contractName":"EscrowContract","abi":[],"bytecode":"0x6080"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80}, []byte(a.Bytecode))

	_, err = ParseArtifact([]byte(`{"contractName":"Iface","abi":[],"bytecode":"0x"}`))
	assert.Error(t, err)
}
