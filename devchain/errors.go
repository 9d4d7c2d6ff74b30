package devchain

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RevertError is returned by CallContract and EstimateGas when execution
// reverts. It carries the revert data the same way a JSON-RPC error does, so
// callers decoding rpc.DataError handle both transports alike.
type RevertError struct {
	data []byte
}

func (e *RevertError) Error() string {
	return "execution reverted"
}

// ErrorCode matches the JSON-RPC code nodes use for reverts
func (e *RevertError) ErrorCode() int {
	return 3
}

// ErrorData returns the hex-encoded revert data
func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(e.data)
}

// Data returns the raw revert data
func (e *RevertError) Data() []byte {
	return append([]byte{}, e.data...)
}
