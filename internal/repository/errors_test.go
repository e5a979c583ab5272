package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestTranslateDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'PRIMARY'"}
	if err := translate(fmt.Errorf("exec: %w", dup)); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("want ErrDuplicateEntry, got %v", err)
	}
	other := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
	if err := translate(other); errors.Is(err, ErrDuplicateEntry) {
		t.Fatal("deadlock mapped to duplicate entry")
	}
	if translate(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
