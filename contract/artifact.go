package contract

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the subset of a hardhat compilation artifact needed to deploy
type Artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     hexutil.Bytes   `json:"bytecode"`
}

// LoadArtifact reads a hardhat artifact (artifacts/contracts/X.sol/X.json)
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return ParseArtifact(raw)
}

// ParseArtifact decodes artifact JSON and checks it carries deployable bytecode
func ParseArtifact(raw []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if len(a.Bytecode) == 0 {
		return nil, fmt.Errorf("artifact %q has no bytecode", a.ContractName)
	}
	return &a, nil
}
