package model

import "testing"

func TestAttributeMapKeepsHighestVersionPerKey(t *testing.T) {
	rows := []UOWAttribute{
		{Key: "amount", Value: 100.0, Version: 1},
		{Key: "amount", Value: 200.0, Version: 2},
		{Key: "status", Value: "pending", Version: 1},
	}
	got := AttributeMap(rows)
	if got["amount"] != 200.0 {
		t.Errorf("expected latest version to win, got %v", got["amount"])
	}
	if got["status"] != "pending" {
		t.Errorf("unexpected status: %v", got["status"])
	}
}

func TestAttributeMapEmpty(t *testing.T) {
	got := AttributeMap(nil)
	if len(got) != 0 {
		t.Errorf("expected empty map, got %+v", got)
	}
}

func TestMaxVersionReturnsZeroForUnknownKey(t *testing.T) {
	rows := []UOWAttribute{{Key: "amount", Version: 3}}
	if got := MaxVersion(rows, "other"); got != 0 {
		t.Errorf("expected 0 for unseen key, got %d", got)
	}
}

func TestMaxVersionReturnsHighestSeen(t *testing.T) {
	rows := []UOWAttribute{
		{Key: "amount", Version: 1},
		{Key: "amount", Version: 5},
		{Key: "amount", Version: 3},
	}
	if got := MaxVersion(rows, "amount"); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}
