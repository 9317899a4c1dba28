// Package chain implements the proof-of-authority chain node: a bolt-backed
// block store and account state, a fee-ordered mempool, a mempool-gated
// proposer loop, and longest-chain fork resolution with bounded reorg depth.
// Tokens enter circulation only through receipt claims; the node mints on
// inclusion and never produces empty blocks.
package chain

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/oib/AITBC-sub002/types"
)

type (
	// GenesisAlloc is one pre-funded account in the genesis file.
	GenesisAlloc struct {
		Address types.Address `json:"address"`
		Balance uint64        `json:"balance"`
	}

	// A Genesis describes the chain's starting state. The file written by
	// `make-genesis` is the authoritative wire form; every node in a
	// deployment must load the identical file or cross-site sync will
	// refuse to reconcile.
	Genesis struct {
		ChainID     string          `json:"chain_id"`
		Timestamp   types.Timestamp `json:"timestamp"`
		Allocations []GenesisAlloc  `json:"allocations"`
	}
)

var (
	// ErrGenesisMismatch is returned when the database was initialized
	// from a different genesis than the one configured.
	ErrGenesisMismatch = errors.New("database genesis does not match configured genesis")
)

// Block constructs the deterministic genesis block. It is the only block with
// no transactions and no proposer signature.
func (g Genesis) Block() types.Block {
	return types.Block{
		Height:    0,
		Timestamp: g.Timestamp,
	}
}

// WriteFile saves the genesis file.
func (g Genesis) WriteFile(path string) error {
	data, err := json.MarshalIndent(g, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// LoadGenesis reads a genesis file.
func LoadGenesis(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, errors.New("could not parse genesis file: " + err.Error())
	}
	if g.ChainID == "" {
		return Genesis{}, errors.New("genesis file has no chain id")
	}
	return g, nil
}
