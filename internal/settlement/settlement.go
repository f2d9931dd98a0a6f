// Package settlement orchestrates a participant's contribution: it checks
// preconditions, builds and submits the on-chain transfer, waits for
// finality, and reconciles the group's cumulative total against the
// payment log.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/splitnpay/splitnpay/internal/calculator"
	"github.com/splitnpay/splitnpay/internal/ledger"
	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/storage"
)

var (
	// ErrNoWalletAddress is returned when the session has no ledger
	// address to pay from.
	ErrNoWalletAddress = errors.New("no wallet address on session")

	// ErrInvalidSplit is returned when the group's split amount is
	// undefined or not positive, so there is nothing meaningful to pay.
	ErrInvalidSplit = errors.New("group split amount is not payable")

	// ErrLedgerCommitted wraps a database failure that happened after the
	// transfer confirmed on the ledger. The ledger moved; the database
	// did not. Reconcile repairs this from the recorded intent.
	ErrLedgerCommitted = errors.New("transfer confirmed but database update failed")
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitnpay_settlements_total",
		Help: "Settlement attempts by outcome.",
	}, []string{"outcome"})

	settledAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitnpay_settled_sol_total",
		Help: "Total SOL settled across all groups.",
	})
)

// Ledger is the slice of the node client the workflow depends on.
type Ledger interface {
	SendTransaction(ctx context.Context, signedTx []byte) (string, error)
	ConfirmTransaction(ctx context.Context, signature string, lastValidBlockHeight uint64) error
	SignatureStatus(ctx context.Context, signature string) (*ledger.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Result reports a successful settlement back to the caller.
type Result struct {
	// Signature is the confirmed ledger transaction signature.
	Signature string

	// Amount is what this participant paid (the group's split amount).
	Amount float64

	// AmountPaid is the group's new cumulative total.
	AmountPaid float64

	// Status is the group's resulting status (open or closed).
	Status string
}

// Service runs the payment reconciliation workflow.
type Service struct {
	store  storage.Store
	ledger Ledger
}

// NewService creates a settlement service over the given store and
// ledger client.
func NewService(store storage.Store, ldg Ledger) *Service {
	return &Service{store: store, ledger: ldg}
}

// Settle executes one participant's contribution end to end.
//
// Preconditions, each short-circuiting with no external mutation: the
// session must carry a wallet address, the group's split amount must be
// defined and positive, and the group must still be open. Then the split
// is converted to lamports and a transfer to the creator is built. The
// wallet authorizes it (this may suspend until the user responds; a
// decline is an ordinary error) and vouches that the signed bytes encode
// exactly that transfer, along with the expiry height of the blockhash
// they are pinned to. The transaction is submitted and awaited up to that
// height, and only after confirmation is the payment recorded and folded
// into the group's cumulative total.
//
// A failure anywhere before confirmation commits nothing. A store
// failure after confirmation returns ErrLedgerCommitted; the submitted
// signature is already journaled, so Reconcile can repair the group.
func (s *Service) Settle(ctx context.Context, sess models.Session, wallet ledger.Wallet, groupID string) (*Result, error) {
	if !sess.HasWallet() || wallet == nil {
		return nil, s.fail("precondition", ErrNoWalletAddress)
	}

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, s.fail("precondition", err)
	}

	split, ok := calculator.ComputeSplit(group.TotalAmount, group.NumberOfPeople)
	if !ok || group.SplitAmount <= 0 {
		return nil, s.fail("precondition", ErrInvalidSplit)
	}
	// The stored split is authoritative; the recomputation above only
	// guards against rows written with broken inputs.
	split = group.SplitAmount

	if group.Closed() {
		return nil, s.fail("precondition", storage.ErrGroupClosed)
	}

	lamports, err := calculator.ToLamports(split)
	if err != nil {
		return nil, s.fail("precondition", fmt.Errorf("convert split: %w", err))
	}

	transfer := &ledger.Transfer{
		From:     sess.WalletAddress,
		To:       group.CreatorAddress,
		Lamports: lamports,
	}

	signed, err := wallet.SignTransfer(ctx, transfer)
	if err != nil {
		return nil, s.fail("sign", fmt.Errorf("wallet signing: %w", err))
	}

	signature, err := s.ledger.SendTransaction(ctx, signed.Raw)
	if err != nil {
		return nil, s.fail("submit", fmt.Errorf("submit transaction: %w", err))
	}

	intent := &models.PaymentIntent{
		GroupID:              group.ID,
		PayerAddress:         sess.WalletAddress,
		Amount:               split,
		Signature:            signature,
		LastValidBlockHeight: signed.LastValidBlockHeight,
	}
	if err := s.store.RecordIntent(ctx, intent); err != nil {
		// The transfer is in flight but unjournaled; surface it rather
		// than risk an untracked confirmation.
		return nil, s.fail("journal", fmt.Errorf("journal intent: %w", err))
	}

	if err := s.ledger.ConfirmTransaction(ctx, signature, signed.LastValidBlockHeight); err != nil {
		if resolveErr := s.store.ResolveIntent(ctx, intent.ID); resolveErr != nil {
			slog.Warn("failed to resolve intent after unconfirmed transfer",
				"intent_id", intent.ID, "error", resolveErr)
		}
		return nil, s.fail("confirm", fmt.Errorf("confirm transaction: %w", err))
	}

	payment := &models.Payment{
		GroupID:      group.ID,
		PayerAddress: sess.WalletAddress,
		Amount:       split,
		Signature:    signature,
	}
	newPaid, status, err := s.store.RecordPayment(ctx, payment)
	if err != nil {
		// The intent stays open for Reconcile.
		return nil, s.fail("record", fmt.Errorf("%w: %v", ErrLedgerCommitted, err))
	}
	if err := s.store.ResolveIntent(ctx, intent.ID); err != nil {
		slog.Warn("payment recorded but intent left open",
			"intent_id", intent.ID, "error", err)
	}

	settlementsTotal.WithLabelValues("success").Inc()
	settledAmount.Add(split)
	slog.Info("settlement confirmed",
		"group_id", group.ID,
		"payer", sess.WalletAddress,
		"amount", split,
		"signature", signature,
		"amount_paid", newPaid,
		"status", status,
	)

	return &Result{
		Signature:  signature,
		Amount:     split,
		AmountPaid: newPaid,
		Status:     status,
	}, nil
}

// Reconcile repairs a group whose cumulative total lags the ledger: every
// open intent is re-checked against the node, confirmed transfers are
// recorded as payments, and failed or expired ones are discarded. Returns
// the number of payments recovered.
//
// Invoked on demand (operator endpoint); there is no background scheduler.
func (s *Service) Reconcile(ctx context.Context, groupID string) (int, error) {
	intents, err := s.store.ListOpenIntents(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("list intents: %w", err)
	}

	recovered := 0
	for _, intent := range intents {
		status, err := s.ledger.SignatureStatus(ctx, intent.Signature)
		if err != nil {
			return recovered, fmt.Errorf("check signature %s: %w", intent.Signature, err)
		}

		switch {
		case status != nil && !status.Failed() &&
			(status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized"):
			payment := &models.Payment{
				GroupID:      intent.GroupID,
				PayerAddress: intent.PayerAddress,
				Amount:       intent.Amount,
				Signature:    intent.Signature,
			}
			if _, _, err := s.store.RecordPayment(ctx, payment); err != nil {
				// A unique-signature violation means the payment already
				// landed; a closed group means the money arrived after
				// the goal. Neither blocks resolving the intent.
				slog.Warn("reconcile could not record payment",
					"intent_id", intent.ID, "signature", intent.Signature, "error", err)
			} else {
				recovered++
			}
			if err := s.store.ResolveIntent(ctx, intent.ID); err != nil {
				return recovered, fmt.Errorf("resolve intent %s: %w", intent.ID, err)
			}
			slog.Info("reconciled payment from ledger",
				"group_id", intent.GroupID, "signature", intent.Signature)

		case status != nil && status.Failed():
			if err := s.store.ResolveIntent(ctx, intent.ID); err != nil {
				return recovered, fmt.Errorf("resolve intent %s: %w", intent.ID, err)
			}

		default:
			// Unseen and unexpired: leave the intent open. Unseen past
			// its last valid block height: the transfer can never land.
			height, err := s.ledger.BlockHeight(ctx)
			if err != nil {
				return recovered, fmt.Errorf("block height: %w", err)
			}
			if height > intent.LastValidBlockHeight {
				if err := s.store.ResolveIntent(ctx, intent.ID); err != nil {
					return recovered, fmt.Errorf("resolve intent %s: %w", intent.ID, err)
				}
			}
		}
	}
	return recovered, nil
}

// fail counts and logs a failed settlement step, passing the error
// through unchanged.
func (s *Service) fail(step string, err error) error {
	settlementsTotal.WithLabelValues(step).Inc()
	slog.Warn("settlement failed", "step", step, "error", err)
	return err
}
