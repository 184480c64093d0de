package repository

import (
	"reflect"
	"testing"
)

func TestCompactKeys(t *testing.T) {
	got := compactKeys([]string{" key-a ", "", "  ", "key-b"})
	want := []string{"key-a", "key-b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("compactKeys() = %v, want %v", got, want)
	}
}

func TestAPIKeyModelTableName(t *testing.T) {
	if got := (APIKeyModel{}).TableName(); got != "api_keys" {
		t.Fatalf("TableName() = %s, want api_keys", got)
	}
}
