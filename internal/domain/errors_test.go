package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestExchangeError_Classification(t *testing.T) {
	transport := NewTransportError("account_info", errors.New("connection reset"))
	conflict := NewOrderingConflict("submit_limit_order", "21104", errors.New("invalid nonce"))
	rejected := NewRejectedError("submit_limit_order", "30001", errors.New("insufficient margin"))

	if !IsTransport(transport) || IsOrderingConflict(transport) || IsRejected(transport) {
		t.Error("transport error misclassified")
	}
	if !IsOrderingConflict(conflict) || IsTransport(conflict) {
		t.Error("ordering conflict misclassified")
	}
	if !IsRejected(rejected) || rejected.IsRetriable() {
		t.Error("rejection misclassified")
	}
	if !transport.IsRetriable() || !conflict.IsRetriable() {
		t.Error("transient errors should be retriable")
	}
}

func TestExchangeError_Wrapping(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewTransportError("order_book", cause)

	wrapped := fmt.Errorf("refresh market 2: %w", err)
	if !IsTransport(wrapped) {
		t.Error("classification should survive wrapping")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}

func TestExchangeError_Message(t *testing.T) {
	err := NewOrderingConflict("submit_market_order", "21104", errors.New("invalid nonce"))
	msg := err.Error()
	if msg == "" {
		t.Fatal("empty error message")
	}
	for _, want := range []string{"submit_market_order", "ordering_conflict", "21104"} {
		if !contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
