package models

// Payment records one confirmed on-chain contribution toward a group.
// Rows are append-only: created exactly once per successful settlement,
// never mutated or deleted.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string `db:"id"`

	// GroupID is the group this payment belongs to.
	GroupID string `db:"group_id"`

	// PayerAddress is the base58 wallet address that signed the transfer.
	PayerAddress string `db:"payer_address"`

	// Amount is the contribution in SOL. Equals the group's split amount
	// at the time of payment.
	Amount float64 `db:"amount_paid"`

	// Signature is the ledger transaction signature (base58). Recorded so
	// a reconciliation pass can re-check database state against the
	// ledger after a partial failure.
	Signature string `db:"signature"`

	// PaidAt is the Unix timestamp when the payment was recorded.
	PaidAt int64 `db:"paid_at"`
}
