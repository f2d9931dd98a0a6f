package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/storage"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func groupColumns() []string {
	return []string{
		"id", "group_name", "group_photo", "group_description",
		"total_amount", "number_of_people", "split_amount", "amount_paid",
		"status", "creator_address", "created_at",
	}
}

func TestGetGroup(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM groups WHERE id = \$1`).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(groupColumns()).
			AddRow("g1", "Ski Trip", "", "", 10.0, 5, 2.0, 4.0, "open", "Creator", int64(1700000000)))

	group, err := store.GetGroup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if group.Name != "Ski Trip" || group.SplitAmount != 2 || group.AmountPaid != 4 {
		t.Errorf("unexpected group: %+v", group)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetGroupNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM groups WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(groupColumns()))

	if _, err := store.GetGroup(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordPaymentIncrementsInPlace(t *testing.T) {
	store, mock := newMockStore(t)

	// The increment must be a single conditional UPDATE, not a
	// read-modify-write from the client.
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE groups SET amount_paid = amount_paid \+ \$1\s+WHERE id = \$2 AND status = \$3\s+RETURNING amount_paid, total_amount`).
		WithArgs(2.0, "g1", models.StatusOpen).
		WillReturnRows(sqlmock.NewRows([]string{"amount_paid", "total_amount"}).AddRow(4.0, 10.0))
	mock.ExpectExec(`INSERT INTO group_payments`).
		WithArgs(sqlmock.AnyArg(), "g1", "PayerAddr", 2.0, "sig-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment := &models.Payment{GroupID: "g1", PayerAddress: "PayerAddr", Amount: 2, Signature: "sig-1"}
	newPaid, status, err := store.RecordPayment(context.Background(), payment)
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if newPaid != 4 || status != models.StatusOpen {
		t.Errorf("got paid=%v status=%q, want 4/open", newPaid, status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordPaymentClosesAtTarget(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE groups SET amount_paid = amount_paid \+ \$1`).
		WithArgs(2.0, "g1", models.StatusOpen).
		WillReturnRows(sqlmock.NewRows([]string{"amount_paid", "total_amount"}).AddRow(10.0, 10.0))
	mock.ExpectExec(`INSERT INTO group_payments`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE groups SET status = \$2 WHERE id = \$1`).
		WithArgs("g1", models.StatusClosed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment := &models.Payment{GroupID: "g1", PayerAddress: "PayerAddr", Amount: 2, Signature: "sig-5"}
	newPaid, status, err := store.RecordPayment(context.Background(), payment)
	if err != nil {
		t.Fatalf("RecordPayment failed: %v", err)
	}
	if newPaid != 10 || status != models.StatusClosed {
		t.Errorf("got paid=%v status=%q, want 10/closed", newPaid, status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordPaymentClosedGroup(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE groups SET amount_paid = amount_paid \+ \$1`).
		WithArgs(2.0, "g1", models.StatusOpen).
		WillReturnRows(sqlmock.NewRows([]string{"amount_paid", "total_amount"}))
	mock.ExpectQuery(`SELECT status FROM groups WHERE id = \$1`).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusClosed))
	mock.ExpectRollback()

	payment := &models.Payment{GroupID: "g1", PayerAddress: "PayerAddr", Amount: 2, Signature: "sig-6"}
	if _, _, err := store.RecordPayment(context.Background(), payment); !errors.Is(err, storage.ErrGroupClosed) {
		t.Errorf("expected ErrGroupClosed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
