package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "bot", Password: "pw", Database: "kas"})
	want := "postgres://bot:pw@db:5432/kas?sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}

	explicit := "postgres://x@y/z"
	if got := DSN(ClientConfig{DSN: explicit, Host: "ignored"}); got != explicit {
		t.Errorf("DSN with explicit = %q", got)
	}
}

func TestPageQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := pageQuery("SELECT * FROM trades WHERE token = $1", "recorded_at",
		domain.ListOpts{Limit: 10, Offset: 20, Since: &since}, "FOO")

	wantQ := "SELECT * FROM trades WHERE token = $1 AND recorded_at >= $2 ORDER BY recorded_at DESC LIMIT $3 OFFSET $4"
	if q != wantQ {
		t.Errorf("query = %q\nwant    %q", q, wantQ)
	}
	wantArgs := []any{"FOO", since, 10, 20}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %v, want %v", args, wantArgs)
	}
}

func TestPageQuery_NoOptions(t *testing.T) {
	q, args := pageQuery("SELECT 1 FROM audit_log WHERE 1=1", "created_at", domain.ListOpts{})
	if q != "SELECT 1 FROM audit_log WHERE 1=1 ORDER BY created_at DESC" {
		t.Errorf("query = %q", q)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Errorf("migrations = %v", names)
	}
}
