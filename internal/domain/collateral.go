package domain

import "time"

// CollateralOp es una operación on-chain del CTF.
type CollateralOp string

const (
	CollateralSplit CollateralOp = "split"
	CollateralMerge CollateralOp = "merge"
)

// CollateralResult represents the result of an on-chain CTF split or merge.
type CollateralResult struct {
	Op          CollateralOp
	ConditionID string
	Amount      float64 // sets de YES+NO (1 set = 1 USDC)
	TxHash      string
	GasUsed     uint64
	GasCostUSD  float64
	Success     bool
	Error       string
	ExecutedAt  time.Time
}
