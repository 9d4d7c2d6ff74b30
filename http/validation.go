package http

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xeipuuv/gojsonschema"

	escrow "github.com/tripartite/escrow"
)

var (
	addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	indexRegex   = regexp.MustCompile(`^[0-9]+$`)
	amountRegex  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// DeployRequest is the body of POST /api/contracts/deploy
type DeployRequest struct {
	Payer        string   `json:"payer"`
	Beneficiary  string   `json:"beneficiary"`
	Requirements []string `json:"requirements"`
}

// DepositRequest is the body of POST /api/contracts/:address/deposit. Amount
// is a decimal ether string.
type DepositRequest struct {
	Amount string `json:"amount"`
}

var deploySchema = gojsonschema.NewStringLoader(fmt.Sprintf(`{
	"type": "object",
	"required": ["payer", "beneficiary", "requirements"],
	"properties": {
		"payer": {"type": "string"},
		"beneficiary": {"type": "string"},
		"requirements": {
			"type": "array",
			"minItems": 1,
			"maxItems": %d,
			"items": {"type": "string", "minLength": 1}
		}
	}
}`, escrow.MaxRequirements))

var depositSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["amount"],
	"properties": {
		"amount": {"type": "string", "minLength": 1}
	}
}`)

// validateBody checks body against schema and decodes it into out
func validateBody(schema gojsonschema.JSONLoader, body []byte, out interface{}) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return escrow.NewError(escrow.KindValidation, ErrCodeInvalidBody, "request body is not valid JSON", nil)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return escrow.NewError(escrow.KindValidation, ErrCodeInvalidBody, "request body failed validation",
			map[string]interface{}{"errors": problems})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return escrow.NewError(escrow.KindValidation, ErrCodeInvalidBody, "failed to decode request body", nil)
	}
	return nil
}

// ParseAddress validates a 0x-prefixed 20 byte hex address
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !addressRegex.MatchString(s) {
		return common.Address{}, escrow.ErrInvalidAddress.WithDetail("address", s)
	}
	return common.HexToAddress(s), nil
}

// ParseIndex validates a non-negative integer requirement index
func ParseIndex(s string) (uint64, error) {
	if !indexRegex.MatchString(s) {
		return 0, escrow.ErrRequirementNotFound.WithDetail("index", s)
	}
	index, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, escrow.ErrRequirementNotFound.WithDetail("index", s)
	}
	return index, nil
}

// ParseBlockNumber validates a non-negative block number. Empty means the
// genesis block.
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	invalid := escrow.NewError(escrow.KindValidation, ErrCodeInvalidBlock, "block number must be a non-negative integer",
		map[string]interface{}{"block": s})
	if !indexRegex.MatchString(s) {
		return 0, invalid
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, invalid
	}
	return n, nil
}

// ParseEtherAmount validates a positive decimal ether amount and returns wei
func ParseEtherAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !amountRegex.MatchString(s) {
		return nil, escrow.ErrInvalidAmount.WithDetail("amount", s)
	}
	wei, err := escrow.ParseEther(s)
	if err != nil || wei.Sign() <= 0 {
		return nil, escrow.ErrInvalidAmount.WithDetail("amount", s)
	}
	return wei, nil
}
