package escrow

import (
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Event names as they appear in the agreement's log topics
const (
	EventFundsDeposited       = "FundsDeposited"
	EventRequirementCompleted = "RequirementCompleted"
	EventAgreementCompleted   = "ContractCompleted"
	EventAgreementCancelled   = "ContractCancelled"
)

// Event is a notification emitted by a successful agreement operation
type Event interface {
	EventName() string
}

// FundsDeposited is emitted when the payer funds the agreement
type FundsDeposited struct {
	Payer     common.Address `json:"payer"`
	Amount    *big.Int       `json:"amount"`
	Timestamp uint64         `json:"timestamp"`
}

// RequirementCompleted is emitted once per certified requirement
type RequirementCompleted struct {
	Index       uint64         `json:"requirementId"`
	Description string         `json:"description"`
	Arbiter     common.Address `json:"arbiter"`
	Timestamp   uint64         `json:"timestamp"`
}

// AgreementCompleted is emitted in the same operation that certifies the last
// requirement, after custody has been released to the beneficiary
type AgreementCompleted struct {
	Beneficiary common.Address `json:"beneficiary"`
	Amount      *big.Int       `json:"amount"`
	Timestamp   uint64         `json:"timestamp"`
}

// AgreementCancelled is emitted on cancellation. Amount is zero when the
// agreement was never funded.
type AgreementCancelled struct {
	RefundedTo common.Address `json:"refundedTo"`
	Amount     *big.Int       `json:"amount"`
	Timestamp  uint64         `json:"timestamp"`
}

func (FundsDeposited) EventName() string       { return EventFundsDeposited }
func (RequirementCompleted) EventName() string { return EventRequirementCompleted }
func (AgreementCompleted) EventName() string   { return EventAgreementCompleted }
func (AgreementCancelled) EventName() string   { return EventAgreementCancelled }

func (e FundsDeposited) MarshalJSON() ([]byte, error) {
	type plain FundsDeposited
	return marshalEvent(e.EventName(), plain(e))
}

func (e RequirementCompleted) MarshalJSON() ([]byte, error) {
	type plain RequirementCompleted
	return marshalEvent(e.EventName(), plain(e))
}

func (e AgreementCompleted) MarshalJSON() ([]byte, error) {
	type plain AgreementCompleted
	return marshalEvent(e.EventName(), plain(e))
}

func (e AgreementCancelled) MarshalJSON() ([]byte, error) {
	type plain AgreementCancelled
	return marshalEvent(e.EventName(), plain(e))
}

// marshalEvent adds an "event" discriminator to the encoded fields
func marshalEvent(name string, fields interface{}) ([]byte, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	obj["event"] = json.RawMessage(strconv.Quote(name))
	return json.Marshal(obj)
}

// EventRecord is an agreement event together with where it was emitted
type EventRecord struct {
	Name        string      `json:"event"`
	Args        Event       `json:"args"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      common.Hash `json:"transactionHash"`
	LogIndex    uint        `json:"logIndex"`
}
