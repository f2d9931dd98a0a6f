package models

// Group status values. A group starts open and closes once the cumulative
// amount paid reaches the target. There is no transition out of closed.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Group represents a shared payment goal: a target amount split equally
// among a fixed number of people, settled by on-chain transfers to the
// creator's wallet.
//
// Invariant: Status == StatusClosed iff AmountPaid >= TotalAmount.
// AmountPaid and Status are mutated only by the settlement workflow
// (through Store.RecordPayment); descriptive fields only by the creator.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string `db:"id"`

	// Name is the display name of the group.
	Name string `db:"group_name"`

	// Photo is an optional URL to the group's cover image.
	Photo string `db:"group_photo"`

	// Description is optional free-form text shown on the group page.
	Description string `db:"group_description"`

	// TotalAmount is the payment goal in SOL. Always positive.
	TotalAmount float64 `db:"total_amount"`

	// NumberOfPeople is how many participants split the goal. Always
	// a positive integer.
	NumberOfPeople int `db:"number_of_people"`

	// SplitAmount is TotalAmount / NumberOfPeople, stored at creation
	// time so every participant sees the same share. Never stored
	// rounded; two-decimal rounding is display-only.
	SplitAmount float64 `db:"split_amount"`

	// AmountPaid is the running total of all confirmed payments.
	// Incremented in the store, never read-modify-written by callers.
	AmountPaid float64 `db:"amount_paid"`

	// Status is StatusOpen or StatusClosed.
	Status string `db:"status"`

	// CreatorAddress is the base58 wallet address that receives every
	// participant's transfer.
	CreatorAddress string `db:"creator_address"`

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64 `db:"created_at"`
}

// Remaining returns how much of the goal is still unpaid, floored at zero.
func (g *Group) Remaining() float64 {
	if g.AmountPaid >= g.TotalAmount {
		return 0
	}
	return g.TotalAmount - g.AmountPaid
}

// Closed reports whether the group no longer accepts payments.
func (g *Group) Closed() bool {
	return g.Status == StatusClosed
}
