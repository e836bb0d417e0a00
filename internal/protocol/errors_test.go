package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrPaused,
		ErrNoPermission,
		ErrAssetUnknown,
		ErrMineUnknown,
		ErrReentrancy,
		ErrInternal,
		ErrBadRequest,
		ErrInsufficientFunds,
		ErrInsufficientAuth,
		ErrInsufficientBalance,
		ErrRateLimitExceeded,
		ErrTotalMismatch,
		ErrNotOwner,
		ErrAlreadyOwned,
		ErrMercTierUnknown,
		ErrBelowMinMercs,
		ErrInsufficientMercs,
		ErrInsufficientGold,
		ErrMustWait,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodedErrorMatching(t *testing.T) {
	err := Errf(ErrInsufficientFunds, "wallet has 5, need 10")
	if !errors.Is(err, Errf(ErrInsufficientFunds, "")) {
		t.Fatalf("expected codes to match regardless of message")
	}
	if errors.Is(err, Errf(ErrInsufficientBalance, "")) {
		t.Fatalf("different codes must not match")
	}

	wrapped := fmt.Errorf("deposit: %w", err)
	if CodeOf(wrapped) != ErrInsufficientFunds {
		t.Fatalf("CodeOf(wrapped)=%q", CodeOf(wrapped))
	}
	if CodeOf(errors.New("boom")) != ErrInternal {
		t.Fatalf("uncoded errors must map to %s", ErrInternal)
	}
	if CodeOf(nil) != "" {
		t.Fatalf("CodeOf(nil)=%q", CodeOf(nil))
	}
}
