package protocol

import "errors"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Engine routing/state.
	ErrPaused       = "E_PAUSED"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrAssetUnknown = "E_ASSET_UNKNOWN"
	ErrMineUnknown  = "E_MINE_UNKNOWN"
	ErrReentrancy   = "E_REENTRANCY"
	ErrInternal     = "E_INTERNAL"

	// Bank layer.
	ErrBadRequest          = "E_BAD_REQUEST"
	ErrInsufficientFunds   = "E_INSUFFICIENT_FUNDS"
	ErrInsufficientAuth    = "E_INSUFFICIENT_AUTHORIZATION"
	ErrInsufficientBalance = "E_INSUFFICIENT_BALANCE"
	ErrRateLimitExceeded   = "E_RATE_LIMIT_EXCEEDED"
	ErrTotalMismatch       = "E_TOTAL_MISMATCH"

	// Mine layer.
	ErrNotOwner          = "E_NOT_OWNER"
	ErrAlreadyOwned      = "E_ALREADY_OWNED"
	ErrMercTierUnknown   = "E_MERC_TIER_UNKNOWN"
	ErrBelowMinMercs     = "E_BELOW_MIN_MERCS"
	ErrInsufficientMercs = "E_INSUFFICIENT_MERCS"
	ErrInsufficientGold  = "E_INSUFFICIENT_GOLD"
	ErrMustWait          = "E_MUST_WAIT_AFTER_SEIZING"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrPaused:              {},
	ErrNoPermission:        {},
	ErrAssetUnknown:        {},
	ErrMineUnknown:         {},
	ErrReentrancy:          {},
	ErrInternal:            {},
	ErrBadRequest:          {},
	ErrInsufficientFunds:   {},
	ErrInsufficientAuth:    {},
	ErrInsufficientBalance: {},
	ErrRateLimitExceeded:   {},
	ErrTotalMismatch:       {},
	ErrNotOwner:            {},
	ErrAlreadyOwned:        {},
	ErrMercTierUnknown:     {},
	ErrBelowMinMercs:       {},
	ErrInsufficientMercs:   {},
	ErrInsufficientGold:    {},
	ErrMustWait:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodedError is a rule-layer failure carrying a protocol error code.
// Every failed operation reverts atomically; the code names the reason.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is makes errors.Is match any CodedError with the same code.
func (e *CodedError) Is(target error) bool {
	var t *CodedError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func Errf(code, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg}
}

// CodeOf extracts the protocol code from an error, defaulting to E_INTERNAL.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrInternal
}
