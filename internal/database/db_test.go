package database

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	dsn := Options{User: "app", Pass: "s3cret", Host: "db", Port: "3306", Name: "badminton"}.DSN()
	for _, want := range []string{"app:s3cret@tcp(db:3306)/badminton", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
