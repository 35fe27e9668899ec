// internal/multisig/instructions.go
package multisig

import (
	"github.com/gagliardetto/solana-go"
)

// Argument payloads, borsh serialized behind the operation
// discriminator.

type CreateArgs struct {
	Threshold uint16
	CreateKey solana.PublicKey
	Members   []solana.PublicKey
	Meta      string
}

type AddMemberArgs struct {
	NewMember solana.PublicKey
}

type RemoveMemberArgs struct {
	OldMember solana.PublicKey
}

type ChangeThresholdArgs struct {
	NewThreshold uint16
}

type AddMemberAndChangeThresholdArgs struct {
	NewMember    solana.PublicKey
	NewThreshold uint16
}

type RemoveMemberAndChangeThresholdArgs struct {
	OldMember    solana.PublicKey
	NewThreshold uint16
}

type SetExternalExecuteArgs struct {
	AllowExecute bool
}

type CreateTransactionArgs struct {
	AuthorityIndex uint32
}

type AddInstructionArgs struct {
	IncomingInstruction Instruction
}

type ExecuteTransactionArgs struct {
	AccountList []byte
}

// ---------------------------------------------------------------
// Instruction builders. Each returns the wire instruction with the
// account list in the order the dispatcher expects.
// ---------------------------------------------------------------

// NewCreateInstruction initializes a registry. The multisig PDA must be
// derived from args.CreateKey; the creator funds the account.
func NewCreateInstruction(programID, multisigPDA, creator solana.PublicKey, args CreateArgs) (Instruction, error) {
	data, err := marshalArgs(ixCreate, args)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: false, IsWritable: true},
			{Pubkey: creator, IsSigner: true, IsWritable: true},
			{Pubkey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}, nil
}

// newAuthInstruction builds an internal-governance instruction: the
// multisig's own derived authority is the sole (signing) account, so it
// is only reachable through execute under quorum.
func newAuthInstruction(disc [8]byte, programID, multisigPDA solana.PublicKey, args interface{}) (Instruction, error) {
	data, err := marshalArgs(disc, args)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}, nil
}

func NewAddMemberInstruction(programID, multisigPDA solana.PublicKey, newMember solana.PublicKey) (Instruction, error) {
	return newAuthInstruction(ixAddMember, programID, multisigPDA, AddMemberArgs{NewMember: newMember})
}

func NewRemoveMemberInstruction(programID, multisigPDA solana.PublicKey, oldMember solana.PublicKey) (Instruction, error) {
	return newAuthInstruction(ixRemoveMember, programID, multisigPDA, RemoveMemberArgs{OldMember: oldMember})
}

func NewChangeThresholdInstruction(programID, multisigPDA solana.PublicKey, newThreshold uint16) (Instruction, error) {
	return newAuthInstruction(ixChangeThreshold, programID, multisigPDA, ChangeThresholdArgs{NewThreshold: newThreshold})
}

func NewAddMemberAndChangeThresholdInstruction(programID, multisigPDA solana.PublicKey, newMember solana.PublicKey, newThreshold uint16) (Instruction, error) {
	return newAuthInstruction(ixAddMemberAndChangeThreshold, programID, multisigPDA, AddMemberAndChangeThresholdArgs{NewMember: newMember, NewThreshold: newThreshold})
}

func NewRemoveMemberAndChangeThresholdInstruction(programID, multisigPDA solana.PublicKey, oldMember solana.PublicKey, newThreshold uint16) (Instruction, error) {
	return newAuthInstruction(ixRemoveMemberAndChangeThreshold, programID, multisigPDA, RemoveMemberAndChangeThresholdArgs{OldMember: oldMember, NewThreshold: newThreshold})
}

func NewAddAuthorityInstruction(programID, multisigPDA solana.PublicKey) (Instruction, error) {
	return newAuthInstruction(ixAddAuthority, programID, multisigPDA, nil)
}

func NewSetExternalExecuteInstruction(programID, multisigPDA solana.PublicKey, allow bool) (Instruction, error) {
	return newAuthInstruction(ixSetExternalExecute, programID, multisigPDA, SetExternalExecuteArgs{AllowExecute: allow})
}

// NewCreateTransactionInstruction opens a draft transaction bound to an
// authority index. The transaction PDA must be derived from the
// registry's next transaction index.
func NewCreateTransactionInstruction(programID, multisigPDA, transactionPDA, creator solana.PublicKey, authorityIndex uint32) (Instruction, error) {
	data, err := marshalArgs(ixCreateTransaction, CreateTransactionArgs{AuthorityIndex: authorityIndex})
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: false, IsWritable: true},
			{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
			{Pubkey: creator, IsSigner: true, IsWritable: true},
			{Pubkey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}, nil
}

// NewAddInstructionInstruction stages one instruction on a draft
// transaction. The instruction PDA must be derived from the
// transaction's next instruction index.
func NewAddInstructionInstruction(programID, multisigPDA, transactionPDA, instructionPDA, creator solana.PublicKey, incoming Instruction) (Instruction, error) {
	data, err := marshalArgs(ixAddInstruction, AddInstructionArgs{IncomingInstruction: incoming})
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: false, IsWritable: false},
			{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
			{Pubkey: instructionPDA, IsSigner: false, IsWritable: true},
			{Pubkey: creator, IsSigner: true, IsWritable: true},
			{Pubkey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}, nil
}

func NewActivateTransactionInstruction(programID, multisigPDA, transactionPDA, creator solana.PublicKey) (Instruction, error) {
	data, err := marshalArgs(ixActivateTransaction, nil)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: false, IsWritable: false},
			{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
			{Pubkey: creator, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}, nil
}

func newVoteInstruction(disc [8]byte, programID, multisigPDA, transactionPDA, member solana.PublicKey) (Instruction, error) {
	data, err := marshalArgs(disc, nil)
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: programID,
		Keys: []AccountMeta{
			{Pubkey: multisigPDA, IsSigner: false, IsWritable: false},
			{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
			{Pubkey: member, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}, nil
}

func NewApproveTransactionInstruction(programID, multisigPDA, transactionPDA, member solana.PublicKey) (Instruction, error) {
	return newVoteInstruction(ixApproveTransaction, programID, multisigPDA, transactionPDA, member)
}

func NewRejectTransactionInstruction(programID, multisigPDA, transactionPDA, member solana.PublicKey) (Instruction, error) {
	return newVoteInstruction(ixRejectTransaction, programID, multisigPDA, transactionPDA, member)
}

func NewCancelTransactionInstruction(programID, multisigPDA, transactionPDA, member solana.PublicKey) (Instruction, error) {
	return newVoteInstruction(ixCancelTransaction, programID, multisigPDA, transactionPDA, member)
}

// NewExecuteTransactionInstruction runs the atomic batch path. The
// remaining accounts hold, per staged instruction in order: the
// instruction record, the target program, then each declared account;
// accountList maps positions in that layout to indices into remaining.
func NewExecuteTransactionInstruction(programID, multisigPDA, transactionPDA, member solana.PublicKey, accountList []byte, remaining []AccountMeta) (Instruction, error) {
	data, err := marshalArgs(ixExecuteTransaction, ExecuteTransactionArgs{AccountList: accountList})
	if err != nil {
		return Instruction{}, err
	}
	keys := []AccountMeta{
		{Pubkey: multisigPDA, IsSigner: false, IsWritable: true},
		{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
		{Pubkey: member, IsSigner: true, IsWritable: true},
	}
	keys = append(keys, remaining...)
	return Instruction{ProgramID: programID, Keys: keys, Data: data}, nil
}

// NewExecuteInstructionInstruction runs one sequential step. The
// remaining accounts are the target program followed by the declared
// accounts of the staged instruction.
func NewExecuteInstructionInstruction(programID, multisigPDA, transactionPDA, instructionPDA, member solana.PublicKey, remaining []AccountMeta) (Instruction, error) {
	data, err := marshalArgs(ixExecuteInstruction, nil)
	if err != nil {
		return Instruction{}, err
	}
	keys := []AccountMeta{
		{Pubkey: multisigPDA, IsSigner: false, IsWritable: true},
		{Pubkey: transactionPDA, IsSigner: false, IsWritable: true},
		{Pubkey: instructionPDA, IsSigner: false, IsWritable: true},
		{Pubkey: member, IsSigner: true, IsWritable: true},
	}
	keys = append(keys, remaining...)
	return Instruction{ProgramID: programID, Keys: keys, Data: data}, nil
}
