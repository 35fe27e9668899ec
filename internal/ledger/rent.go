// internal/ledger/rent.go
package ledger

import "github.com/shopspring/decimal"

// Rent parameters matching the Solana defaults: accounts must hold two
// years of rent to be exempt from collection.
const (
	lamportsPerByteYear = 3480
	exemptionYears      = 2
	accountOverhead     = 128

	LamportsPerSOL = 1_000_000_000
)

// MinimumBalance returns the lamports an account of the given data size
// must hold to be rent exempt.
func MinimumBalance(dataLen int) uint64 {
	return uint64(accountOverhead+dataLen) * lamportsPerByteYear * exemptionYears
}

// LamportsToSOL renders a lamport amount as a SOL decimal for display.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.New(int64(lamports), -9)
}
