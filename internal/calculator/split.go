// Package calculator computes per-participant shares for a group goal.
// Pure functions, no state, no side effects.
package calculator

import (
	"errors"
	"math"
)

// LamportsPerSOL is the number of base ledger units in one SOL.
const LamportsPerSOL = 1_000_000_000

// ErrAmountOutOfRange is returned by ToLamports for amounts that cannot be
// represented as a non-negative 64-bit lamport count.
var ErrAmountOutOfRange = errors.New("amount out of range")

// ComputeSplit returns the equal per-person share of totalAmount across
// numberOfPeople, and whether the inputs define a split at all.
//
// The second return is false when totalAmount is non-finite or not
// positive, or numberOfPeople is not positive. Callers treat false as
// "no split displayed" rather than an error: an empty form and a bad
// form both simply produce no share.
func ComputeSplit(totalAmount float64, numberOfPeople int) (float64, bool) {
	if math.IsNaN(totalAmount) || math.IsInf(totalAmount, 0) || totalAmount <= 0 {
		return 0, false
	}
	if numberOfPeople <= 0 {
		return 0, false
	}
	return totalAmount / float64(numberOfPeople), true
}

// RoundForDisplay rounds an amount to two decimals for presentation.
// Stored amounts are never rounded; only what the user sees is.
func RoundForDisplay(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// ToLamports converts a SOL amount into the ledger's smallest unit,
// rounding to the nearest lamport. Used by settlement when building the
// transfer instruction.
func ToLamports(amount float64) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, ErrAmountOutOfRange
	}
	lamports := math.Round(amount * LamportsPerSOL)
	if lamports >= math.MaxUint64 || lamports < 0 {
		return 0, ErrAmountOutOfRange
	}
	return uint64(lamports), nil
}
