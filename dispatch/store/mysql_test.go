package store

import (
	"os"
	"testing"
)

// TestMySQLStore runs the store contract against a real MySQL server.
// Point SCHEDULA_MYSQL_DSN at a scratch database to enable it:
//
//	SCHEDULA_MYSQL_DSN="root:root@tcp(localhost:3306)/schedula_test?parseTime=true" go test ./...
func TestMySQLStore(t *testing.T) {
	dsn := os.Getenv("SCHEDULA_MYSQL_DSN")
	if dsn == "" {
		t.Skip("SCHEDULA_MYSQL_DSN not set; skipping MySQL integration test")
	}
	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	runStoreContract(t, s)
}
