package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestAfterCommit_RunsImmediatelyOutsideTx(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Error("expected hook to run immediately without a transaction")
	}
}

func TestAfterCommit_DeferredUntilRun(t *testing.T) {
	ctx, hooks := WithCommitHooks(context.Background())
	var order []int
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(ctx, func() { order = append(order, 2) })
	if len(order) != 0 {
		t.Fatal("hooks ran before commit")
	}
	hooks.Run()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected hooks in registration order, got %v", order)
	}
	hooks.Run()
	if len(order) != 2 {
		t.Error("hooks must run once")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction on a bare context")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection", &pgconn.PgError{Code: "08006"}, true},
		{"unique", &pgconn.PgError{Code: "23505"}, false},
		{"no rows", pgx.ErrNoRows, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "slot_doctor_start_uniq"}
	if !IsUniqueViolation(err, "") {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(err, "slot_doctor_start_uniq") {
		t.Error("expected match on constraint name")
	}
	if IsUniqueViolation(err, "other") {
		t.Error("did not expect match on a different constraint")
	}
}
