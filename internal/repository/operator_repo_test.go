package repository

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/quickpayplatform/autocue/internal/models"
)

func newOperatorRepo(t *testing.T) (*OperatorSQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewOperatorSQLite(db), mock
}

func TestOperatorCreate(t *testing.T) {
	repo, mock := newOperatorRepo(t)
	at := time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertOperatorSQL)).
		WithArgs("stage-manager", "h", ts(at)).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := repo.Create(ctx(t), models.Operator{Username: "stage-manager", PasswordHash: "h", CreatedAt: at})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}
}

func TestOperatorCreate_DuplicateUsername(t *testing.T) {
	repo, mock := newOperatorRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(insertOperatorSQL)).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: operators.username (2067)"))

	_, err := repo.Create(ctx(t), models.Operator{Username: "stage-manager", PasswordHash: "h"})
	if !errors.Is(err, ErrOperatorExists) {
		t.Fatalf("err = %v, want ErrOperatorExists", err)
	}
}

func TestOperatorCreate_ExecError(t *testing.T) {
	repo, mock := newOperatorRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(insertOperatorSQL)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := repo.Create(ctx(t), models.Operator{Username: "lx"})
	if err == nil || errors.Is(err, ErrOperatorExists) {
		t.Fatalf("err = %v, want a wrapped storage error", err)
	}
}

func TestOperatorGetByUsername(t *testing.T) {
	repo, mock := newOperatorRepo(t)
	at := time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectOperatorSQL)).
		WithArgs("lx").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}).
			AddRow(3, "lx", "hash", at))
	mock.ExpectQuery(regexp.QuoteMeta(selectOperatorSQL)).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "created_at"}))

	op, err := repo.GetByUsername(ctx(t), "lx")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if op.ID != 3 || op.PasswordHash != "hash" || !op.CreatedAt.Equal(at) {
		t.Fatalf("unexpected operator %+v", op)
	}

	op, err = repo.GetByUsername(ctx(t), "nobody")
	if err != nil || op != nil {
		t.Fatalf("unknown operator = %+v, %v; want nil, nil", op, err)
	}
}
