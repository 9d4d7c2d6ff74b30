package contract

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	escrow "github.com/tripartite/escrow"
)

// Binding packs and unpacks the agreement contract's calls, views, events and
// errors. It is immutable after construction and safe for concurrent use.
type Binding struct {
	abi abi.ABI
}

// NewBinding parses the agreement ABI
func NewBinding() (*Binding, error) {
	parsed, err := abi.JSON(bytes.NewReader(ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse agreement ABI: %w", err)
	}
	return &Binding{abi: parsed}, nil
}

// MustNewBinding is NewBinding for package-level initialization
func MustNewBinding() *Binding {
	b, err := NewBinding()
	if err != nil {
		panic(err)
	}
	return b
}

// ABI returns the parsed ABI
func (b *Binding) ABI() abi.ABI {
	return b.abi
}

// ============================================================================
// Deployment
// ============================================================================

// DeployData concatenates bytecode with the packed constructor arguments
func (b *Binding) DeployData(bytecode []byte, payer, beneficiary common.Address, descriptions []string) ([]byte, error) {
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("empty contract bytecode")
	}
	args, err := b.abi.Pack("", payer, beneficiary, descriptions)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor arguments: %w", err)
	}
	data := make([]byte, 0, len(bytecode)+len(args))
	data = append(data, bytecode...)
	return append(data, args...), nil
}

// ConstructorArgs are the decoded deployment arguments
type ConstructorArgs struct {
	Payer        common.Address
	Beneficiary  common.Address
	Requirements []string
}

// UnpackConstructor decodes packed constructor arguments (without bytecode)
func (b *Binding) UnpackConstructor(data []byte) (ConstructorArgs, error) {
	values, err := b.abi.Constructor.Inputs.Unpack(data)
	if err != nil {
		return ConstructorArgs{}, fmt.Errorf("failed to unpack constructor arguments: %w", err)
	}
	var args ConstructorArgs
	if args.Payer, err = field[common.Address](values, 0); err != nil {
		return args, err
	}
	if args.Beneficiary, err = field[common.Address](values, 1); err != nil {
		return args, err
	}
	if args.Requirements, err = field[[]string](values, 2); err != nil {
		return args, err
	}
	return args, nil
}

// ============================================================================
// Calls
// ============================================================================

// Pack encodes a call to the named function
func (b *Binding) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

func (b *Binding) PackDeposit() ([]byte, error) {
	return b.Pack(FunctionDepositFunds)
}

func (b *Binding) PackCompleteRequirement(index uint64) ([]byte, error) {
	return b.Pack(FunctionCompleteRequirement, new(big.Int).SetUint64(index))
}

func (b *Binding) PackCancel() ([]byte, error) {
	return b.Pack(FunctionCancelContract)
}

func (b *Binding) PackEmergencyWithdraw() ([]byte, error) {
	return b.Pack(FunctionEmergencyWithdraw)
}

// DecodeCall resolves the method selected by calldata and unpacks its inputs
func (b *Binding) DecodeCall(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := b.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}
	return method, args, nil
}

// PackOutput encodes the return values of the named function
func (b *Binding) PackOutput(method string, values ...interface{}) ([]byte, error) {
	m, ok := b.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", method)
	}
	return m.Outputs.Pack(values...)
}

// ============================================================================
// Views
// ============================================================================

func (b *Binding) UnpackContractInfo(data []byte) (escrow.ContractInfo, error) {
	values, err := b.abi.Unpack(FunctionGetContractInfo, data)
	if err != nil {
		return escrow.ContractInfo{}, fmt.Errorf("failed to unpack contract info: %w", err)
	}
	var (
		info escrow.ContractInfo
		errs = &fieldErrors{}
	)
	info.Arbiter = errs.addr(values, 0)
	info.Payer = errs.addr(values, 1)
	info.Beneficiary = errs.addr(values, 2)
	info.DepositedAmount = errs.amount(values, 3)
	info.State = escrow.State(errs.u8(values, 4))
	info.TotalRequirements = errs.u64(values, 5)
	info.CompletedCount = errs.u64(values, 6)
	info.Balance = errs.amount(values, 7)
	info.CreatedAt = errs.u64(values, 8)
	info.CompletedAt = errs.u64(values, 9)
	return info, errs.err
}

func (b *Binding) PackContractInfo(info escrow.ContractInfo) ([]byte, error) {
	return b.PackOutput(FunctionGetContractInfo,
		info.Arbiter,
		info.Payer,
		info.Beneficiary,
		orZero(info.DepositedAmount),
		uint8(info.State),
		new(big.Int).SetUint64(info.TotalRequirements),
		new(big.Int).SetUint64(info.CompletedCount),
		orZero(info.Balance),
		new(big.Int).SetUint64(info.CreatedAt),
		new(big.Int).SetUint64(info.CompletedAt),
	)
}

func (b *Binding) UnpackRequirements(data []byte) (escrow.RequirementColumns, error) {
	values, err := b.abi.Unpack(FunctionGetAllRequirements, data)
	if err != nil {
		return escrow.RequirementColumns{}, fmt.Errorf("failed to unpack requirements: %w", err)
	}
	descriptions, err := field[[]string](values, 0)
	if err != nil {
		return escrow.RequirementColumns{}, err
	}
	completed, err := field[[]bool](values, 1)
	if err != nil {
		return escrow.RequirementColumns{}, err
	}
	times, err := field[[]*big.Int](values, 2)
	if err != nil {
		return escrow.RequirementColumns{}, err
	}
	cols := escrow.RequirementColumns{
		Descriptions: descriptions,
		Completed:    completed,
		CompletedAt:  make([]uint64, len(times)),
	}
	for i, t := range times {
		cols.CompletedAt[i] = t.Uint64()
	}
	return cols, nil
}

func (b *Binding) PackRequirements(cols escrow.RequirementColumns) ([]byte, error) {
	times := make([]*big.Int, len(cols.CompletedAt))
	for i, t := range cols.CompletedAt {
		times[i] = new(big.Int).SetUint64(t)
	}
	return b.PackOutput(FunctionGetAllRequirements, cols.Descriptions, cols.Completed, times)
}

func (b *Binding) UnpackRequirement(index uint64, data []byte) (escrow.Requirement, error) {
	values, err := b.abi.Unpack(FunctionGetRequirement, data)
	if err != nil {
		return escrow.Requirement{}, fmt.Errorf("failed to unpack requirement %d: %w", index, err)
	}
	errs := &fieldErrors{}
	req := escrow.Requirement{Index: index}
	req.Description = errs.str(values, 0)
	req.Completed = errs.flag(values, 1)
	req.CompletedAt = errs.u64(values, 2)
	return req, errs.err
}

func (b *Binding) PackRequirement(req escrow.Requirement) ([]byte, error) {
	return b.PackOutput(FunctionGetRequirement, req.Description, req.Completed, new(big.Int).SetUint64(req.CompletedAt))
}

func (b *Binding) UnpackSummary(data []byte) (escrow.Summary, error) {
	values, err := b.abi.Unpack(FunctionGetSummary, data)
	if err != nil {
		return escrow.Summary{}, fmt.Errorf("failed to unpack summary: %w", err)
	}
	errs := &fieldErrors{}
	s := escrow.Summary{
		State:     escrow.State(errs.u8(values, 0)),
		Progress:  errs.u64(values, 1),
		Balance:   errs.amount(values, 2),
		Total:     errs.u64(values, 3),
		Completed: errs.u64(values, 4),
	}
	return s, errs.err
}

func (b *Binding) PackSummary(s escrow.Summary) ([]byte, error) {
	return b.PackOutput(FunctionGetSummary,
		uint8(s.State),
		new(big.Int).SetUint64(s.Progress),
		orZero(s.Balance),
		new(big.Int).SetUint64(s.Total),
		new(big.Int).SetUint64(s.Completed),
	)
}

func (b *Binding) UnpackProgress(data []byte) (uint64, error) {
	values, err := b.abi.Unpack(FunctionGetProgress, data)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack progress: %w", err)
	}
	errs := &fieldErrors{}
	p := errs.u64(values, 0)
	return p, errs.err
}

func (b *Binding) UnpackCanComplete(data []byte) (bool, error) {
	values, err := b.abi.Unpack(FunctionCanComplete, data)
	if err != nil {
		return false, fmt.Errorf("failed to unpack canComplete: %w", err)
	}
	return field[bool](values, 0)
}

func (b *Binding) UnpackState(data []byte) (escrow.State, error) {
	values, err := b.abi.Unpack(FunctionState, data)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack state: %w", err)
	}
	s, err := field[uint8](values, 0)
	return escrow.State(s), err
}

// ============================================================================
// Helpers
// ============================================================================

func field[T any](values []interface{}, i int) (T, error) {
	var zero T
	if i >= len(values) {
		return zero, fmt.Errorf("missing output %d", i)
	}
	v, ok := values[i].(T)
	if !ok {
		return zero, fmt.Errorf("output %d: unexpected type %T", i, values[i])
	}
	return v, nil
}

// fieldErrors collects the first decoding failure so tuple unpacking reads
// straight through
type fieldErrors struct {
	err error
}

func (f *fieldErrors) keep(err error) {
	if f.err == nil && err != nil {
		f.err = err
	}
}

func (f *fieldErrors) addr(values []interface{}, i int) common.Address {
	v, err := field[common.Address](values, i)
	f.keep(err)
	return v
}

func (f *fieldErrors) amount(values []interface{}, i int) *big.Int {
	v, err := field[*big.Int](values, i)
	f.keep(err)
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (f *fieldErrors) u64(values []interface{}, i int) uint64 {
	v := f.amount(values, i)
	if !v.IsUint64() {
		f.keep(fmt.Errorf("output %d: %s overflows uint64", i, v))
		return 0
	}
	return v.Uint64()
}

func (f *fieldErrors) u8(values []interface{}, i int) uint8 {
	v, err := field[uint8](values, i)
	f.keep(err)
	return v
}

func (f *fieldErrors) str(values []interface{}, i int) string {
	v, err := field[string](values, i)
	f.keep(err)
	return v
}

func (f *fieldErrors) flag(values []interface{}, i int) bool {
	v, err := field[bool](values, i)
	f.keep(err)
	return v
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
