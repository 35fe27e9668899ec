// internal/multisig/execute.go
package multisig

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"squadlet-go/internal/ledger"
)

// transactionAuthority resolves the signing identity for a proposal and
// re-derives its bump. A bump that no longer matches the one recorded
// at creation fails closed.
func (p *Program) transactionAuthority(ms *Ms, msKey solana.PublicKey, tx *MsTransaction) (solana.PublicKey, error) {
	if tx.AuthorityIndex == 0 {
		if tx.AuthorityBump != ms.Bump {
			return solana.PublicKey{}, fmt.Errorf("%w: authority bump does not match registry derivation", ErrInvalidInstructionAccount)
		}
		return msKey, nil
	}
	authority, bump := GetAuthorityPDA(msKey, tx.AuthorityIndex, p.ID)
	if bump != tx.AuthorityBump {
		return solana.PublicKey{}, fmt.Errorf("%w: authority bump does not match index %d derivation", ErrInvalidInstructionAccount, tx.AuthorityIndex)
	}
	return authority, nil
}

// canExecute enforces the execution permission: members always may;
// anyone else only when the registry allows external execution.
func canExecute(ms *Ms, caller solana.PublicKey) error {
	if _, ok := ms.IsMember(caller); ok {
		return nil
	}
	if ms.AllowExternalExecute {
		return nil
	}
	return ErrKeyNotInMultisig
}

// isExecuteKind reports whether a payload dispatches to one of the
// execute operations. Used to refuse reentrant self-invocation from
// authority-0 instructions.
func isExecuteKind(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return bytes.Equal(data[:8], ixExecuteTransaction[:]) ||
		bytes.Equal(data[:8], ixExecuteInstruction[:])
}

// invokeSigned dispatches one sub-instruction with the engine vouching
// for the derived authority's signature. Instructions targeting this
// program re-enter the dispatcher; foreign programs go through their
// registered handler.
func (p *Program) invokeSigned(st ledger.Tx, ix Instruction, authority solana.PublicKey) error {
	signers := []solana.PublicKey{authority}
	if ix.ProgramID.Equals(p.ID) {
		return p.dispatch(st, ix, signers)
	}
	handler, ok := p.external[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: no handler registered for program %s", ErrInstructionFailed, ix.ProgramID)
	}
	if err := handler(st, ix, signers); err != nil {
		return fmt.Errorf("%w: program %s: %v", ErrInstructionFailed, ix.ProgramID, err)
	}
	return nil
}

// executeTransaction runs the atomic batch path. Accounts: multisig,
// transaction, member [signer], then the flattened per-instruction
// account blocks selected by args.AccountList:
// [ix_1_account, ix_1_program, ix_1_account_1, ix_1_account_2, ...]
func (p *Program) executeTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args ExecuteTransactionArgs) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return err
	}
	caller, err := requireSigner(ix, signers, 2)
	if err != nil {
		return err
	}

	ms, _, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if err := canExecute(ms, caller); err != nil {
		return err
	}

	tx, txAcct, err := p.loadTransaction(st, txMeta.Pubkey, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if tx.Status != StatusExecuteReady {
		return ErrInvalidTransactionState
	}
	// once sequential execution has started, it must be finished
	// through executeInstruction
	if tx.ExecutedIndex >= 1 {
		return ErrPartialExecution
	}

	// an empty proposal trivially succeeds
	if tx.InstructionIndex < 1 {
		tx.SetExecuted()
		return p.persist(st, txAcct, msTransactionDiscriminator, tx)
	}

	authority, err := p.transactionAuthority(ms, msMeta.Pubkey, tx)
	if err != nil {
		return err
	}

	// unroll the remaining accounts through the caller's selection list
	remaining := ix.Keys[3:]
	mapped := make([]AccountMeta, 0, len(args.AccountList))
	for _, ind := range args.AccountList {
		if int(ind) >= len(remaining) {
			return fmt.Errorf("%w: account list index %d out of range", ErrInvalidNumberOfAccounts, ind)
		}
		mapped = append(mapped, remaining[ind])
	}

	cursor := 0
	next := func() (AccountMeta, error) {
		if cursor >= len(mapped) {
			return AccountMeta{}, ErrInvalidNumberOfAccounts
		}
		meta := mapped[cursor]
		cursor++
		return meta, nil
	}

	for i := uint8(1); i <= tx.InstructionIndex; i++ {
		// each block starts with the staged instruction record, which
		// must be this program's account at the derived address
		recMeta, err := next()
		if err != nil {
			return err
		}
		expected, _ := GetInstructionPDA(txMeta.Pubkey, i, p.ID)
		if !expected.Equals(recMeta.Pubkey) {
			return fmt.Errorf("%w: instruction %d account does not match derivation", ErrInvalidInstructionAccount, i)
		}
		rec, recAcct, err := p.loadInstruction(st, recMeta.Pubkey, txMeta.Pubkey)
		if err != nil {
			return err
		}

		progMeta, err := next()
		if err != nil {
			return err
		}
		if !progMeta.Pubkey.Equals(rec.ProgramID) {
			return fmt.Errorf("%w: instruction %d program account mismatch", ErrInvalidInstructionAccount, i)
		}

		// every supplied account must match the staged key at the
		// same position
		for pos, k := range rec.Keys {
			meta, err := next()
			if err != nil {
				return err
			}
			if !meta.Pubkey.Equals(k.Pubkey) {
				return fmt.Errorf("%w: instruction %d account %d mismatch", ErrInvalidInstructionAccount, i, pos)
			}
		}

		subIx := rec.ToInstruction()
		if tx.AuthorityIndex == 0 {
			if !subIx.ProgramID.Equals(p.ID) {
				return ErrInvalidAuthorityIndex
			}
			if isExecuteKind(subIx.Data) {
				return ErrReentrantCall
			}
		}
		if err := p.invokeSigned(st, subIx, authority); err != nil {
			return err
		}

		rec.Executed = true
		if err := p.persist(st, recAcct, msInstructionDiscriminator, rec); err != nil {
			return err
		}
	}

	tx.ExecutedIndex = tx.InstructionIndex
	tx.SetExecuted()
	// note: the registry copy loaded above may be stale now (an
	// authority-0 batch can mutate it); only the transaction record is
	// written back here
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}

// executeInstruction runs exactly one staged instruction, which must be
// the next unexecuted one. Authority 0 is disallowed here: governance
// batches may not be split across calls. Accounts: multisig,
// transaction, instruction, member [signer], then the target program
// followed by the staged instruction's declared accounts.
func (p *Program) executeInstruction(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return err
	}
	recMeta, err := accountAt(ix, 2)
	if err != nil {
		return err
	}
	caller, err := requireSigner(ix, signers, 3)
	if err != nil {
		return err
	}

	ms, _, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if err := canExecute(ms, caller); err != nil {
		return err
	}

	tx, txAcct, err := p.loadTransaction(st, txMeta.Pubkey, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if tx.Status != StatusExecuteReady {
		return ErrInvalidTransactionState
	}
	if tx.AuthorityIndex == 0 {
		return ErrInvalidAuthorityIndex
	}

	rec, recAcct, err := p.loadInstruction(st, recMeta.Pubkey, txMeta.Pubkey)
	if err != nil {
		return err
	}
	// strict in-order: only the next unexecuted instruction may run
	if rec.InstructionIndex != tx.ExecutedIndex+1 {
		return fmt.Errorf("%w: expected instruction %d, got %d", ErrInvalidInstructionAccount, tx.ExecutedIndex+1, rec.InstructionIndex)
	}

	authority, err := p.transactionAuthority(ms, msMeta.Pubkey, tx)
	if err != nil {
		return err
	}

	remaining := ix.Keys[4:]
	if len(remaining) != 1+len(rec.Keys) {
		return ErrInvalidNumberOfAccounts
	}
	if !remaining[0].Pubkey.Equals(rec.ProgramID) {
		return fmt.Errorf("%w: program account mismatch", ErrInvalidInstructionAccount)
	}
	for pos, k := range rec.Keys {
		if !remaining[1+pos].Pubkey.Equals(k.Pubkey) {
			return fmt.Errorf("%w: account %d mismatch", ErrInvalidInstructionAccount, pos)
		}
	}

	if err := p.invokeSigned(st, rec.ToInstruction(), authority); err != nil {
		return err
	}

	rec.Executed = true
	if err := p.persist(st, recAcct, msInstructionDiscriminator, rec); err != nil {
		return err
	}

	tx.ExecutedIndex = rec.InstructionIndex
	if rec.InstructionIndex == tx.InstructionIndex {
		tx.SetExecuted()
	}
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}
