// internal/multisig/errors.go
package multisig

import "errors"

// Program error kinds. Every handler fails with one of these (possibly
// wrapped with context) before touching any state, so callers can
// branch with errors.Is.
var (
	ErrKeyNotInMultisig          = errors.New("key is not a member of the multisig")
	ErrUnauthorized              = errors.New("required signature is missing")
	ErrInvalidTransactionState   = errors.New("transaction is in an invalid state for this operation")
	ErrInvalidNumberOfAccounts   = errors.New("invalid number of accounts supplied")
	ErrInvalidInstructionAccount = errors.New("instruction account does not match the expected derived account")
	ErrInvalidAuthorityIndex     = errors.New("invalid authority index for this operation")
	ErrCannotRemoveSoloMember    = errors.New("cannot remove the last remaining member")
	ErrInvalidThreshold          = errors.New("threshold must be between 1 and the member count")
	ErrDeprecatedTransaction     = errors.New("transaction predates the last membership change")
	ErrInstructionFailed         = errors.New("attached instruction failed")
	ErrMaxMembersReached         = errors.New("maximum member count reached")
	ErrEmptyMembers              = errors.New("member list cannot be empty")
	ErrPartialExecution          = errors.New("transaction already partially executed sequentially")
	ErrIndexExhausted            = errors.New("index capacity exhausted")
	ErrNotEnoughLamports         = errors.New("not enough lamports to fund the account")
	ErrReentrantCall             = errors.New("attached instruction may not reinvoke an execute operation")
)
