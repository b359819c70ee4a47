package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresStore_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key = \$1`).
		WithArgs("playback/position").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("42"))

	s := NewPostgres(mock)
	v, found, err := s.Get(context.Background(), "playback/position")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || v != "42" {
		t.Errorf("expected 42, got %q found=%v", v, found)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	s := NewPostgres(mock)
	_, found, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if found {
		t.Error("expected missing key to be reported as not found")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPostgresStore_GetError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT value FROM kv_entries`).
		WithArgs("k").
		WillReturnError(errors.New("connection reset"))

	s := NewPostgres(mock)
	if _, _, err := s.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestPostgresStore_SetUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectExec(`(?s)INSERT INTO kv_entries.*ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", "v").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgres(mock)
	if err := s.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPostgresStore_Remove(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM kv_entries WHERE key = \$1`).
		WithArgs("k").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	s := NewPostgres(mock)
	if err := s.Remove(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1`).WillReturnError(errors.New("connection reset"))

	s := NewPostgres(mock)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}
