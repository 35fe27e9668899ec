// internal/multisig/transaction.go
package multisig

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"squadlet-go/internal/ledger"
)

// createTransaction opens a draft proposal bound to an authority index,
// consuming the registry's next transaction index. Accounts: multisig,
// transaction, creator [signer, payer], system program.
func (p *Program) createTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args CreateTransactionArgs) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return err
	}
	creator, err := requireSigner(ix, signers, 2)
	if err != nil {
		return err
	}
	if err := requireSystemProgram(ix, 3); err != nil {
		return err
	}

	ms, msAcct, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if _, ok := ms.IsMember(creator); !ok {
		return ErrKeyNotInMultisig
	}

	// authority 0 is the registry's own identity, so its bump is the
	// registry bump; anything else derives fresh.
	authorityBump := ms.Bump
	if args.AuthorityIndex > 0 {
		_, authorityBump = GetAuthorityPDA(msMeta.Pubkey, args.AuthorityIndex, p.ID)
	}

	if ms.TransactionIndex == math.MaxUint32 {
		return fmt.Errorf("%w: transaction index", ErrIndexExhausted)
	}
	newIndex := ms.TransactionIndex + 1

	expected, bump := GetTransactionPDA(msMeta.Pubkey, newIndex, p.ID)
	if !expected.Equals(txMeta.Pubkey) {
		return fmt.Errorf("%w: transaction address does not match index %d derivation", ErrInvalidInstructionAccount, newIndex)
	}

	txAcct, err := p.createAccount(st, txMeta.Pubkey, creator, MsTransactionSize(len(ms.Keys)))
	if err != nil {
		return err
	}

	ms.TransactionIndex = newIndex
	if err := p.persist(st, msAcct, msDiscriminator, ms); err != nil {
		return err
	}

	tx := MsTransaction{
		Creator:          creator,
		Ms:               msMeta.Pubkey,
		TransactionIndex: newIndex,
		AuthorityIndex:   args.AuthorityIndex,
		AuthorityBump:    authorityBump,
		Status:           StatusDraft,
		InstructionIndex: 0,
		Bump:             bump,
		Approved:         []solana.PublicKey{},
		Rejected:         []solana.PublicKey{},
		Cancelled:        []solana.PublicKey{},
		ExecutedIndex:    0,
	}
	return p.persist(st, txAcct, msTransactionDiscriminator, &tx)
}

// addInstruction stages one instruction on a draft transaction.
// Accounts: multisig, transaction, instruction, creator [signer,
// payer], system program.
func (p *Program) addInstruction(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args AddInstructionArgs) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return err
	}
	ixMeta, err := accountAt(ix, 2)
	if err != nil {
		return err
	}
	creator, err := requireSigner(ix, signers, 3)
	if err != nil {
		return err
	}
	if err := requireSystemProgram(ix, 4); err != nil {
		return err
	}

	ms, _, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if _, ok := ms.IsMember(creator); !ok {
		return ErrKeyNotInMultisig
	}

	tx, txAcct, err := p.loadTransaction(st, txMeta.Pubkey, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if !tx.Creator.Equals(creator) {
		return fmt.Errorf("%w: only the transaction creator may attach instructions", ErrUnauthorized)
	}
	if tx.Status != StatusDraft {
		return ErrInvalidTransactionState
	}

	// internal-governance proposals may only target this program
	if tx.AuthorityIndex == 0 && !args.IncomingInstruction.ProgramID.Equals(p.ID) {
		return ErrInvalidAuthorityIndex
	}

	if tx.InstructionIndex == math.MaxUint8 {
		return fmt.Errorf("%w: instruction index", ErrIndexExhausted)
	}
	newIndex := tx.InstructionIndex + 1

	expected, bump := GetInstructionPDA(txMeta.Pubkey, newIndex, p.ID)
	if !expected.Equals(ixMeta.Pubkey) {
		return fmt.Errorf("%w: instruction address does not match index %d derivation", ErrInvalidInstructionAccount, newIndex)
	}

	rec := MsInstruction{
		ProgramID:        args.IncomingInstruction.ProgramID,
		Keys:             args.IncomingInstruction.Keys,
		Data:             args.IncomingInstruction.Data,
		InstructionIndex: newIndex,
		Bump:             bump,
		Executed:         false,
	}

	// size the account to exactly the serialized record; an undersized
	// allocation is impossible by construction
	serialized, err := marshalRecord(msInstructionDiscriminator, &rec)
	if err != nil {
		return err
	}
	ixAcct, err := p.createAccount(st, ixMeta.Pubkey, creator, len(serialized))
	if err != nil {
		return err
	}
	copy(ixAcct.Data, serialized)
	if err := st.Put(ixAcct); err != nil {
		return err
	}

	tx.InstructionIndex = newIndex
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}

// activateTransaction moves a draft to Active so members can vote.
// Accounts: multisig, transaction, creator [signer].
func (p *Program) activateTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return err
	}
	creator, err := requireSigner(ix, signers, 2)
	if err != nil {
		return err
	}

	ms, _, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if _, ok := ms.IsMember(creator); !ok {
		return ErrKeyNotInMultisig
	}

	tx, txAcct, err := p.loadTransaction(st, txMeta.Pubkey, msMeta.Pubkey)
	if err != nil {
		return err
	}
	if !tx.Creator.Equals(creator) {
		return fmt.Errorf("%w: only the transaction creator may activate", ErrUnauthorized)
	}
	if tx.Status != StatusDraft {
		return ErrInvalidTransactionState
	}
	if tx.TransactionIndex <= ms.MsChangeIndex {
		return ErrDeprecatedTransaction
	}

	tx.Activate()
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}

// loadVoteContext authenticates the shared account set of the voting
// operations: multisig, transaction, member [signer].
func (p *Program) loadVoteContext(st ledger.Tx, ix Instruction, signers []solana.PublicKey) (*Ms, *MsTransaction, *ledger.Account, solana.PublicKey, error) {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return nil, nil, nil, solana.PublicKey{}, err
	}
	txMeta, err := accountAt(ix, 1)
	if err != nil {
		return nil, nil, nil, solana.PublicKey{}, err
	}
	member, err := requireSigner(ix, signers, 2)
	if err != nil {
		return nil, nil, nil, solana.PublicKey{}, err
	}

	ms, _, err := p.loadMs(st, msMeta.Pubkey)
	if err != nil {
		return nil, nil, nil, solana.PublicKey{}, err
	}
	if _, ok := ms.IsMember(member); !ok {
		return nil, nil, nil, solana.PublicKey{}, ErrKeyNotInMultisig
	}

	tx, txAcct, err := p.loadTransaction(st, txMeta.Pubkey, msMeta.Pubkey)
	if err != nil {
		return nil, nil, nil, solana.PublicKey{}, err
	}
	return ms, tx, txAcct, member, nil
}

// approveTransaction records an approval. A prior rejection by the same
// member is withdrawn first; re-approving is a no-op. Crossing the
// threshold flips the transaction to ExecuteReady.
func (p *Program) approveTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	ms, tx, txAcct, member, err := p.loadVoteContext(st, ix, signers)
	if err != nil {
		return err
	}
	if tx.Status != StatusActive {
		return ErrInvalidTransactionState
	}
	if tx.TransactionIndex <= ms.MsChangeIndex {
		return ErrDeprecatedTransaction
	}

	if ind, ok := tx.HasVotedReject(member); ok {
		tx.RemoveReject(ind)
	}
	if _, ok := tx.HasVotedApprove(member); !ok {
		tx.Sign(member)
	}

	if len(tx.Approved) >= int(ms.Threshold) {
		tx.ReadyToExecute()
	}
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}

// rejectTransaction records a rejection. Once more members have
// rejected than could still be overturned (members - threshold), the
// transaction is Rejected for good.
func (p *Program) rejectTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	ms, tx, txAcct, member, err := p.loadVoteContext(st, ix, signers)
	if err != nil {
		return err
	}
	if tx.Status != StatusActive {
		return ErrInvalidTransactionState
	}
	if tx.TransactionIndex <= ms.MsChangeIndex {
		return ErrDeprecatedTransaction
	}

	if ind, ok := tx.HasVotedApprove(member); ok {
		tx.RemoveApprove(ind)
	}
	if _, ok := tx.HasVotedReject(member); !ok {
		tx.Reject(member)
	}

	// ie total members 7, threshold 3, cutoff = 4
	cutoff := len(ms.Keys) - int(ms.Threshold)
	if len(tx.Rejected) > cutoff {
		tx.SetRejected()
	}
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}

// cancelTransaction records a cancellation vote on an ExecuteReady
// transaction; at threshold the transaction is Cancelled and can no
// longer execute.
func (p *Program) cancelTransaction(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	ms, tx, txAcct, member, err := p.loadVoteContext(st, ix, signers)
	if err != nil {
		return err
	}
	if tx.Status != StatusExecuteReady {
		return ErrInvalidTransactionState
	}

	if _, ok := tx.HasCancelled(member); !ok {
		tx.Cancel(member)
	}

	if len(tx.Cancelled) >= int(ms.Threshold) {
		tx.SetCancelled()
	}
	return p.persist(st, txAcct, msTransactionDiscriminator, tx)
}
