package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletRecord is the public registry entry for a custodied wallet.
// It never carries key material.
type WalletRecord struct {
	Address       string          `json:"address"`
	Label         string          `json:"label"`
	IsTreasury    bool            `json:"is_treasury"`
	CreatedAt     time.Time       `json:"created_at"`
	CachedBalance decimal.Decimal `json:"cached_balance"`
	BalanceAt     time.Time       `json:"balance_at,omitempty"`
}
