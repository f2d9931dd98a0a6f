package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"

	"github.com/splitnpay/splitnpay/internal/ledger"
	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/storage"
	"github.com/splitnpay/splitnpay/internal/storage/sqlite"
)

// fakeLedger satisfies Ledger with canned responses.
type fakeLedger struct {
	sendSig    string
	sendErr    error
	confirmErr error
	statuses   map[string]*ledger.SignatureStatus
	height     uint64

	sent [][]byte
}

func (f *fakeLedger) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, signedTx)
	return f.sendSig, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, signature string, lastValidBlockHeight uint64) error {
	return f.confirmErr
}

func (f *fakeLedger) SignatureStatus(ctx context.Context, signature string) (*ledger.SignatureStatus, error) {
	return f.statuses[signature], nil
}

func (f *fakeLedger) BlockHeight(ctx context.Context) (uint64, error) {
	return f.height, nil
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		sendSig:  "Signature111",
		statuses: make(map[string]*ledger.SignatureStatus),
		height:   100,
	}
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "splitnpay-settlement-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newKeypair(t *testing.T) *ledger.Keypair {
	t.Helper()
	kp, err := ledger.NewKeypair()
	if err != nil {
		t.Fatalf("NewKeypair failed: %v", err)
	}
	return kp
}

func newOpenGroup(t *testing.T, store storage.Store, creator string, total float64, people int) *models.Group {
	t.Helper()
	group := &models.Group{
		Name:           "Ski Trip",
		TotalAmount:    total,
		NumberOfPeople: people,
		SplitAmount:    total / float64(people),
		CreatorAddress: creator,
	}
	if err := store.CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	return group
}

func session(wallet string) models.Session {
	return models.Session{UserID: "u1", Email: "amina@example.com", WalletAddress: wallet}
}

var testBlockhash = base58.Encode(bytes.Repeat([]byte{7}, 32))

// presignedWallet signs a real transfer with the payer's key and wraps it
// the way the HTTP layer does for browser-signed transactions.
func presignedWallet(t *testing.T, payer *ledger.Keypair, to string, lamports uint64) ledger.Wallet {
	t.Helper()
	signed, err := payer.SignTransfer(context.Background(), &ledger.Transfer{
		From:      payer.Address(),
		To:        to,
		Lamports:  lamports,
		Blockhash: testBlockhash,
	})
	if err != nil {
		t.Fatalf("SignTransfer failed: %v", err)
	}
	return ledger.NewPresigned(payer.Address(), signed.Raw, 500)
}

func TestSettleRecordsConfirmedPayment(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)
	wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)

	result, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID)
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	if result.Signature != "Signature111" {
		t.Errorf("signature = %q, want Signature111", result.Signature)
	}
	if result.Amount != 2 || result.AmountPaid != 2 || result.Status != models.StatusOpen {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(ldg.sent) != 1 {
		t.Errorf("expected 1 submitted transaction, got %d", len(ldg.sent))
	}

	payments, err := store.ListPayments(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Signature != "Signature111" || payments[0].PayerAddress != payer.Address() {
		t.Errorf("unexpected payments: %+v", payments)
	}

	open, err := store.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open intents after a clean settlement, got %d", len(open))
	}
}

func TestSettleClosesGroupAtGoal(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)

	var last *Result
	for i := 0; i < 5; i++ {
		payer := newKeypair(t)
		ldg.sendSig = "sig-" + payer.Address()[:8]
		wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)
		result, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID)
		if err != nil {
			t.Fatalf("Settle %d failed: %v", i+1, err)
		}
		last = result
	}
	if last.AmountPaid != 10 || last.Status != models.StatusClosed {
		t.Errorf("after final payment: paid=%v status=%q, want 10/closed", last.AmountPaid, last.Status)
	}

	// The group is settled; a sixth participant is turned away.
	sixth := newKeypair(t)
	ldg.sendSig = "sig-sixth"
	wallet := presignedWallet(t, sixth, creator.Address(), 2_000_000_000)
	if _, err := svc.Settle(ctx, session(sixth.Address()), wallet, group.ID); !errors.Is(err, storage.ErrGroupClosed) {
		t.Errorf("expected ErrGroupClosed, got %v", err)
	}
}

func TestSettlePreconditions(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)
	wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)

	t.Run("missing wallet address", func(t *testing.T) {
		if _, err := svc.Settle(ctx, session(""), wallet, group.ID); !errors.Is(err, ErrNoWalletAddress) {
			t.Errorf("expected ErrNoWalletAddress, got %v", err)
		}
	})

	t.Run("nil wallet", func(t *testing.T) {
		if _, err := svc.Settle(ctx, session(payer.Address()), nil, group.ID); !errors.Is(err, ErrNoWalletAddress) {
			t.Errorf("expected ErrNoWalletAddress, got %v", err)
		}
	})

	t.Run("unknown group", func(t *testing.T) {
		if _, err := svc.Settle(ctx, session(payer.Address()), wallet, "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unpayable split", func(t *testing.T) {
		broken := &models.Group{
			Name:           "Broken",
			TotalAmount:    10,
			NumberOfPeople: 5,
			SplitAmount:    0,
			CreatorAddress: creator.Address(),
		}
		if err := store.CreateGroup(ctx, broken); err != nil {
			t.Fatalf("CreateGroup failed: %v", err)
		}
		if _, err := svc.Settle(ctx, session(payer.Address()), wallet, broken.ID); !errors.Is(err, ErrInvalidSplit) {
			t.Errorf("expected ErrInvalidSplit, got %v", err)
		}
	})

	// No precondition failure may touch the ledger.
	if len(ldg.sent) != 0 {
		t.Errorf("precondition failures submitted %d transactions", len(ldg.sent))
	}
}

func TestSettleRejectsForeignTransaction(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)

	t.Run("undecodable bytes", func(t *testing.T) {
		wallet := ledger.NewPresigned(payer.Address(), []byte("transfer-of-1-lamport-to-attacker"), 500)
		if _, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID); !errors.Is(err, ledger.ErrTransferMismatch) {
			t.Errorf("expected ErrTransferMismatch, got %v", err)
		}
	})

	t.Run("one-lamport self transfer", func(t *testing.T) {
		wallet := presignedWallet(t, payer, payer.Address(), 1)
		if _, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID); !errors.Is(err, ledger.ErrTransferMismatch) {
			t.Errorf("expected ErrTransferMismatch, got %v", err)
		}
	})

	t.Run("wrong amount to the right recipient", func(t *testing.T) {
		wallet := presignedWallet(t, payer, creator.Address(), 1)
		if _, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID); !errors.Is(err, ledger.ErrTransferMismatch) {
			t.Errorf("expected ErrTransferMismatch, got %v", err)
		}
	})

	// Nothing reached the ledger and nothing was credited.
	if len(ldg.sent) != 0 {
		t.Errorf("rejected transactions were submitted: %d", len(ldg.sent))
	}
	payments, err := store.ListPayments(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 0 {
		t.Errorf("rejected transactions produced %d payment rows", len(payments))
	}
	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.AmountPaid != 0 || got.Closed() {
		t.Errorf("group mutated by rejected transactions: %+v", got)
	}
}

func TestSettleJournalsClientExpiry(t *testing.T) {
	inner := newTestStore(t)
	store := &recordFailStore{Store: inner, failures: 1}
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, inner, creator.Address(), 10, 5)
	wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)

	if _, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID); !errors.Is(err, ErrLedgerCommitted) {
		t.Fatalf("expected ErrLedgerCommitted, got %v", err)
	}

	// The journaled expiry is the client's, not a server-side fetch.
	open, err := inner.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 1 || open[0].LastValidBlockHeight != 500 {
		t.Fatalf("expected one intent with the client's height 500, got %+v", open)
	}
}

func TestSettleUnconfirmedLeavesNoPayment(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	ldg.confirmErr = ledger.ErrTransactionFailed
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)
	wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)

	_, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID)
	if !errors.Is(err, ledger.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}

	payments, err := store.ListPayments(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 0 {
		t.Errorf("unconfirmed transfer produced %d payment rows", len(payments))
	}
	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.AmountPaid != 0 {
		t.Errorf("amount paid = %v after an unconfirmed transfer, want 0", got.AmountPaid)
	}

	// The failed attempt does not linger in the journal.
	open, err := store.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open intents, got %d", len(open))
	}
}

// recordFailStore fails RecordPayment a set number of times, then
// delegates.
type recordFailStore struct {
	storage.Store
	failures int
}

func (s *recordFailStore) RecordPayment(ctx context.Context, p *models.Payment) (float64, string, error) {
	if s.failures > 0 {
		s.failures--
		return 0, "", errors.New("database unavailable")
	}
	return s.Store.RecordPayment(ctx, p)
}

func TestSettleStoreFailureAfterConfirm(t *testing.T) {
	inner := newTestStore(t)
	store := &recordFailStore{Store: inner, failures: 1}
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	payer := newKeypair(t)
	group := newOpenGroup(t, inner, creator.Address(), 10, 5)
	wallet := presignedWallet(t, payer, creator.Address(), 2_000_000_000)

	_, err := svc.Settle(ctx, session(payer.Address()), wallet, group.ID)
	if !errors.Is(err, ErrLedgerCommitted) {
		t.Fatalf("expected ErrLedgerCommitted, got %v", err)
	}

	// The intent stays journaled so the money is recoverable.
	open, err := inner.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 1 || open[0].Signature != "Signature111" {
		t.Fatalf("expected the confirmed intent to stay open, got %+v", open)
	}

	// Once the node reports the signature confirmed, Reconcile lands it.
	ldg.statuses["Signature111"] = &ledger.SignatureStatus{ConfirmationStatus: "confirmed"}
	recovered, err := svc.Reconcile(ctx, group.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	final, err := inner.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if final.AmountPaid != 2 {
		t.Errorf("amount paid = %v after reconcile, want 2", final.AmountPaid)
	}
	open, err = inner.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open intents after reconcile, got %d", len(open))
	}
}

func TestReconcileDiscardsDeadIntents(t *testing.T) {
	store := newTestStore(t)
	ldg := newFakeLedger()
	svc := NewService(store, ldg)
	ctx := context.Background()

	creator := newKeypair(t)
	group := newOpenGroup(t, store, creator.Address(), 10, 5)

	failed := &models.PaymentIntent{
		GroupID: group.ID, PayerAddress: "A", Amount: 2,
		Signature: "sig-failed", LastValidBlockHeight: 500,
	}
	expired := &models.PaymentIntent{
		GroupID: group.ID, PayerAddress: "B", Amount: 2,
		Signature: "sig-expired", LastValidBlockHeight: 50,
	}
	pending := &models.PaymentIntent{
		GroupID: group.ID, PayerAddress: "C", Amount: 2,
		Signature: "sig-pending", LastValidBlockHeight: 500,
	}
	for _, intent := range []*models.PaymentIntent{failed, expired, pending} {
		if err := store.RecordIntent(ctx, intent); err != nil {
			t.Fatalf("RecordIntent failed: %v", err)
		}
	}

	ldg.statuses["sig-failed"] = &ledger.SignatureStatus{Err: json.RawMessage(`{"InstructionError":[0,"Custom"]}`)}
	ldg.height = 100 // past expired's height, within pending's

	recovered, err := svc.Reconcile(ctx, group.ID)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if recovered != 0 {
		t.Errorf("recovered = %d, want 0", recovered)
	}

	open, err := store.ListOpenIntents(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListOpenIntents failed: %v", err)
	}
	if len(open) != 1 || open[0].Signature != "sig-pending" {
		t.Errorf("expected only the pending intent to stay open, got %+v", open)
	}

	payments, err := store.ListPayments(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if len(payments) != 0 {
		t.Errorf("dead intents produced %d payments", len(payments))
	}
}
