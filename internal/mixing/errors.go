package mixing

import "errors"

// Error taxonomy per §7. Each sentinel maps to one reject path in the
// dispatcher; wrapping with fmt.Errorf("%w: ...") is used where a reason
// string accompanies the class.
var (
	ErrVersionIncompatible = errors.New("peer protocol version incompatible")
	ErrNotInode            = errors.New("sender is not a registered inode")
	ErrNotInRegistry       = errors.New("inode not found in registry")
	ErrRateLimited         = errors.New("queue rate limited")
	ErrIncompatibleSession = errors.New("not compatible with existing transactions")
	ErrInvalidEntry        = errors.New("entry invalid")
	ErrCollateralInvalid   = errors.New("collateral invalid")
	ErrSignatureRefused    = errors.New("signature refused")
	ErrSessionTimeout      = errors.New("session timed out")
	ErrFatalInternal       = errors.New("fatal internal error")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionFull         = errors.New("session full")
	ErrDuplicateInput      = errors.New("duplicate input")
	ErrUnknownInput        = errors.New("input outpoint unknown")
	ErrBadScript           = errors.New("output script is not standard p2pkh")
	ErrFeeTooHigh          = errors.New("input/output fee delta exceeds 1%")
	ErrPoolMaxExceeded     = errors.New("input sum exceeds pool max")
	ErrAlreadySigned       = errors.New("signature already present")
)
