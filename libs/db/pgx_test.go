package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/servicebook/libs/apperr"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want apperr.Kind
	}{
		{&pgconn.PgError{Code: "40001"}, apperr.KindTransient},
		{fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), apperr.KindTransient},
		{&pgconn.PgError{Code: "23505"}, apperr.KindConflict},
		{&pgconn.PgError{Code: "23503", Message: "fk"}, apperr.KindValidation},
		{&pgconn.PgError{Code: "42P01"}, apperr.KindInternal},
		{pgx.ErrNoRows, apperr.KindNotFound},
		{context.DeadlineExceeded, apperr.KindTransient},
		{errors.New("boom"), apperr.KindInternal},
		{apperr.Conflict("svc", "taken"), apperr.KindConflict},
	}
	for _, c := range cases {
		if got := apperr.KindOf(Classify("test", c.err)); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
	if Classify("test", nil) != nil {
		t.Fatal("nil stays nil")
	}
}
