package models

// PaymentIntent journals a transfer that was submitted to the ledger but
// not yet reflected in the group's cumulative total. Written after
// submission and before confirmation, so a crash or database failure
// between the on-chain transfer and the payment row leaves a trail the
// reconciliation pass can repair from.
type PaymentIntent struct {
	// ID is the unique identifier for the intent (UUID format).
	ID string `db:"id"`

	// GroupID is the group the transfer pays into.
	GroupID string `db:"group_id"`

	// PayerAddress is the base58 wallet address that signed the transfer.
	PayerAddress string `db:"payer_address"`

	// Amount is the contribution in SOL.
	Amount float64 `db:"amount"`

	// Signature is the ledger transaction signature (base58).
	Signature string `db:"signature"`

	// LastValidBlockHeight is when the transaction's blockhash expires;
	// past it an unconfirmed intent can be discarded.
	LastValidBlockHeight uint64 `db:"last_valid_block_height"`

	// SubmittedAt is the Unix timestamp when the transfer was submitted.
	SubmittedAt int64 `db:"submitted_at"`

	// Resolved is true once the intent was either recorded as a payment
	// or discarded as failed.
	Resolved bool `db:"resolved"`
}
