// internal/multisig/program.go
package multisig

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"squadlet-go/internal/ledger"
)

// ExternalHandler executes an instruction targeting a foreign program.
// signers carries the keys the engine vouches for on this invocation.
type ExternalHandler func(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error

// Program is the multisig program engine. All state lives in the
// account store; every Process call is one atomic unit of work.
type Program struct {
	ID solana.PublicKey

	store    ledger.Store
	external map[solana.PublicKey]ExternalHandler
}

func New(programID solana.PublicKey, store ledger.Store) *Program {
	return &Program{
		ID:       programID,
		store:    store,
		external: make(map[solana.PublicKey]ExternalHandler),
	}
}

// RegisterProgram installs a handler for sub-instructions that target a
// foreign program during execution.
func (p *Program) RegisterProgram(id solana.PublicKey, handler ExternalHandler) {
	p.external[id] = handler
}

// Process applies one top-level instruction. The signer set is taken
// from the instruction's account metas: the hosting service must have
// verified those signatures before calling. Derived (off-curve)
// addresses can never sign at the top level; their signatures only
// arise through the execution engine's invokeSigned.
func (p *Program) Process(ix Instruction) error {
	var signers []solana.PublicKey
	for _, meta := range ix.Keys {
		if meta.IsSigner && meta.Pubkey.IsOnCurve() {
			signers = append(signers, meta.Pubkey)
		}
	}
	return p.store.Update(func(st ledger.Tx) error {
		return p.dispatch(st, ix, signers)
	})
}

func (p *Program) dispatch(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	if len(ix.Data) < 8 {
		return fmt.Errorf("%w: missing instruction discriminator", ErrInstructionFailed)
	}
	var disc [8]byte
	copy(disc[:], ix.Data[:8])
	raw := ix.Data[8:]

	switch disc {
	case ixCreate:
		var args CreateArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.create(st, ix, signers, args)
	case ixAddMember:
		var args AddMemberArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.addMember(st, ix, signers, args)
	case ixRemoveMember:
		var args RemoveMemberArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.removeMember(st, ix, signers, args)
	case ixChangeThreshold:
		var args ChangeThresholdArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.changeThreshold(st, ix, signers, args)
	case ixAddMemberAndChangeThreshold:
		var args AddMemberAndChangeThresholdArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.addMemberAndChangeThreshold(st, ix, signers, args)
	case ixRemoveMemberAndChangeThreshold:
		var args RemoveMemberAndChangeThresholdArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.removeMemberAndChangeThreshold(st, ix, signers, args)
	case ixAddAuthority:
		return p.addAuthority(st, ix, signers)
	case ixSetExternalExecute:
		var args SetExternalExecuteArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.setExternalExecute(st, ix, signers, args)
	case ixCreateTransaction:
		var args CreateTransactionArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.createTransaction(st, ix, signers, args)
	case ixAddInstruction:
		var args AddInstructionArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.addInstruction(st, ix, signers, args)
	case ixActivateTransaction:
		return p.activateTransaction(st, ix, signers)
	case ixApproveTransaction:
		return p.approveTransaction(st, ix, signers)
	case ixRejectTransaction:
		return p.rejectTransaction(st, ix, signers)
	case ixCancelTransaction:
		return p.cancelTransaction(st, ix, signers)
	case ixExecuteTransaction:
		var args ExecuteTransactionArgs
		if err := unmarshalArgs(raw, &args); err != nil {
			return err
		}
		return p.executeTransaction(st, ix, signers, args)
	case ixExecuteInstruction:
		return p.executeInstruction(st, ix, signers)
	}
	return fmt.Errorf("%w: unknown instruction discriminator", ErrInstructionFailed)
}

// ---------------------------------------------------------------
// Account plumbing
// ---------------------------------------------------------------

func accountAt(ix Instruction, i int) (AccountMeta, error) {
	if i >= len(ix.Keys) {
		return AccountMeta{}, ErrInvalidNumberOfAccounts
	}
	return ix.Keys[i], nil
}

// requireSigner checks that the account at position i is marked as a
// signer and the engine vouches for its signature.
func requireSigner(ix Instruction, signers []solana.PublicKey, i int) (solana.PublicKey, error) {
	meta, err := accountAt(ix, i)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if !meta.IsSigner {
		return solana.PublicKey{}, fmt.Errorf("%w: account %s is not a signer", ErrUnauthorized, meta.Pubkey)
	}
	for _, s := range signers {
		if s.Equals(meta.Pubkey) {
			return meta.Pubkey, nil
		}
	}
	return solana.PublicKey{}, fmt.Errorf("%w: no signature for %s", ErrUnauthorized, meta.Pubkey)
}

func requireSystemProgram(ix Instruction, i int) error {
	meta, err := accountAt(ix, i)
	if err != nil {
		return err
	}
	if !meta.Pubkey.Equals(solana.SystemProgramID) {
		return fmt.Errorf("%w: expected system program at position %d", ErrInvalidInstructionAccount, i)
	}
	return nil
}

// loadMs loads and authenticates a registry record: the account must be
// owned by this program, carry the registry discriminator, and sit at
// the address its own create key derives.
func (p *Program) loadMs(st ledger.Tx, key solana.PublicKey) (*Ms, *ledger.Account, error) {
	acct, err := st.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: multisig account %s: %v", ErrInvalidInstructionAccount, key, err)
	}
	if !acct.Owner.Equals(p.ID) {
		return nil, nil, fmt.Errorf("%w: multisig account %s has wrong owner", ErrInvalidInstructionAccount, key)
	}
	var ms Ms
	if err := unmarshalRecord(msDiscriminator, acct.Data, &ms); err != nil {
		return nil, nil, err
	}
	expected, bump := GetMultisigPDA(ms.CreateKey, p.ID)
	if !expected.Equals(key) || bump != ms.Bump {
		return nil, nil, fmt.Errorf("%w: multisig account %s fails derivation", ErrInvalidInstructionAccount, key)
	}
	return &ms, acct, nil
}

// loadTransaction loads and authenticates a transaction record that
// must belong to the given registry.
func (p *Program) loadTransaction(st ledger.Tx, key, msKey solana.PublicKey) (*MsTransaction, *ledger.Account, error) {
	acct, err := st.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: transaction account %s: %v", ErrInvalidInstructionAccount, key, err)
	}
	if !acct.Owner.Equals(p.ID) {
		return nil, nil, fmt.Errorf("%w: transaction account %s has wrong owner", ErrInvalidInstructionAccount, key)
	}
	var tx MsTransaction
	if err := unmarshalRecord(msTransactionDiscriminator, acct.Data, &tx); err != nil {
		return nil, nil, err
	}
	if !tx.Ms.Equals(msKey) {
		return nil, nil, fmt.Errorf("%w: transaction %s belongs to a different multisig", ErrInvalidInstructionAccount, key)
	}
	expected, bump := GetTransactionPDA(msKey, tx.TransactionIndex, p.ID)
	if !expected.Equals(key) || bump != tx.Bump {
		return nil, nil, fmt.Errorf("%w: transaction account %s fails derivation", ErrInvalidInstructionAccount, key)
	}
	return &tx, acct, nil
}

// loadInstruction loads and authenticates one staged instruction record
// belonging to the given transaction.
func (p *Program) loadInstruction(st ledger.Tx, key, txKey solana.PublicKey) (*MsInstruction, *ledger.Account, error) {
	acct, err := st.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: instruction account %s: %v", ErrInvalidInstructionAccount, key, err)
	}
	if !acct.Owner.Equals(p.ID) {
		return nil, nil, fmt.Errorf("%w: instruction account %s has wrong owner", ErrInvalidInstructionAccount, key)
	}
	var rec MsInstruction
	if err := unmarshalRecord(msInstructionDiscriminator, acct.Data, &rec); err != nil {
		return nil, nil, err
	}
	expected, bump := GetInstructionPDA(txKey, rec.InstructionIndex, p.ID)
	if !expected.Equals(key) || bump != rec.Bump {
		return nil, nil, fmt.Errorf("%w: instruction account %s fails derivation", ErrInvalidInstructionAccount, key)
	}
	return &rec, acct, nil
}

// requireMsAuth loads the registry whose own derived authority signed
// this instruction. That signature can only be produced by the
// execution engine, which makes every caller an approved proposal.
func (p *Program) requireMsAuth(st ledger.Tx, ix Instruction, signers []solana.PublicKey) (*Ms, *ledger.Account, error) {
	key, err := requireSigner(ix, signers, 0)
	if err != nil {
		return nil, nil, err
	}
	return p.loadMs(st, key)
}

// createAccount allocates a program-owned account of exactly size bytes
// at a derived address, charging the payer the rent-exempt minimum.
func (p *Program) createAccount(st ledger.Tx, key, payer solana.PublicKey, size int) (*ledger.Account, error) {
	if existing, err := st.Get(key); err == nil && (existing.Lamports > 0 || len(existing.Data) > 0) {
		return nil, fmt.Errorf("%w: account %s already in use", ErrInvalidInstructionAccount, key)
	}
	rent := ledger.MinimumBalance(size)
	payerAcct, err := st.Get(payer)
	if err != nil {
		return nil, fmt.Errorf("%w: payer %s has no funds", ErrNotEnoughLamports, payer)
	}
	if payerAcct.Lamports < rent {
		return nil, fmt.Errorf("%w: payer %s holds %d, needs %d", ErrNotEnoughLamports, payer, payerAcct.Lamports, rent)
	}
	payerAcct.Lamports -= rent
	if err := st.Put(payerAcct); err != nil {
		return nil, err
	}
	acct := &ledger.Account{
		Key:      key,
		Owner:    p.ID,
		Lamports: rent,
		Data:     make([]byte, size),
	}
	if err := st.Put(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// persist serializes a record into its account, preserving the
// allocated size. Records never outgrow their allocation: growth paths
// (member realloc) resize the account first.
func (p *Program) persist(st ledger.Tx, acct *ledger.Account, disc [8]byte, v interface{}) error {
	serialized, err := marshalRecord(disc, v)
	if err != nil {
		return err
	}
	if len(serialized) > len(acct.Data) {
		return fmt.Errorf("%w: record needs %d bytes, account holds %d", ErrNotEnoughLamports, len(serialized), len(acct.Data))
	}
	data := make([]byte, len(acct.Data))
	copy(data, serialized)
	acct.Data = data
	return st.Put(acct)
}
