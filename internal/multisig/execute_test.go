// internal/multisig/execute_test.go
package multisig

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// readyTransaction stages the given instructions, activates and
// approves to quorum.
func readyTransaction(e *testEnv, authorityIndex uint32, ixs ...Instruction) solana.PublicKey {
	e.t.Helper()
	creator := e.members[0]
	txPDA := e.createTransaction(creator, authorityIndex)
	for _, ix := range ixs {
		e.addInstruction(txPDA, creator, ix)
	}
	require.NoError(e.t, e.activate(txPDA, creator))
	e.approveToQuorum(txPDA)
	return txPDA
}

func TestExecuteAtomicBatch(t *testing.T) {
	e := newTestEnv(t, 3, 2)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	dest1 := solana.NewWallet().PrivateKey.PublicKey()
	dest2 := solana.NewWallet().PrivateKey.PublicKey()
	txPDA := readyTransaction(e, 1, rec.transferIx(dest1), rec.transferIx(dest2))

	require.NoError(t, e.execute(txPDA, e.members[2]))

	tx := e.transaction(txPDA)
	require.Equal(t, StatusExecuted, tx.Status)
	require.Equal(t, uint8(2), tx.ExecutedIndex)
	require.True(t, e.instruction(txPDA, 1).Executed)
	require.True(t, e.instruction(txPDA, 2).Executed)

	require.Len(t, rec.calls, 2)
	require.Equal(t, dest1, rec.calls[0].Keys[0].Pubkey)
	require.Equal(t, dest2, rec.calls[1].Keys[0].Pubkey)

	// the engine signs as the selected vault authority
	authority, _ := GetAuthorityPDA(e.msPDA, 1, testProgramID)
	require.Equal(t, []solana.PublicKey{authority}, rec.signers[0])
	require.Equal(t, []solana.PublicKey{authority}, rec.signers[1])
}

func TestExecuteEmptyTransaction(t *testing.T) {
	e := newTestEnv(t, 2, 2)
	txPDA := readyTransaction(e, 1)

	require.NoError(t, e.execute(txPDA, e.members[0]))
	require.Equal(t, StatusExecuted, e.transaction(txPDA).Status)
}

func TestExecuteRequiresExecuteReady(t *testing.T) {
	e := newTestEnv(t, 2, 2)
	creator := e.members[0]

	txPDA := e.createTransaction(creator, 1)
	require.ErrorIs(t, e.execute(txPDA, creator), ErrInvalidTransactionState)

	require.NoError(t, e.activate(txPDA, creator))
	require.ErrorIs(t, e.execute(txPDA, creator), ErrInvalidTransactionState)
}

func TestExecutedTransactionCannotRunAgain(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx())
	require.NoError(t, e.execute(txPDA, e.members[0]))
	require.Equal(t, StatusExecuted, e.transaction(txPDA).Status)
	require.Len(t, rec.calls, 1)

	// both execution paths refuse a finished transaction and nothing
	// is invoked a second time
	require.ErrorIs(t, e.execute(txPDA, e.members[0]), ErrInvalidTransactionState)

	staged := e.instruction(txPDA, 1)
	ixPDA, _ := GetInstructionPDA(txPDA, 1, testProgramID)
	remaining := append([]AccountMeta{{Pubkey: staged.ProgramID}}, staged.Keys...)
	seq, err := NewExecuteInstructionInstruction(testProgramID, e.msPDA, txPDA, ixPDA, e.members[0], remaining)
	require.NoError(t, err)
	require.ErrorIs(t, e.program.Process(seq), ErrInvalidTransactionState)

	require.Len(t, rec.calls, 1)
	require.Equal(t, StatusExecuted, e.transaction(txPDA).Status)
}

func TestExecuteAccountMismatchLeavesStateUntouched(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	dest := solana.NewWallet().PrivateKey.PublicKey()
	txPDA := readyTransaction(e, 1, rec.transferIx(dest))

	accountList, remaining := e.batchAccounts(txPDA)
	remaining[2].Pubkey = solana.NewWallet().PrivateKey.PublicKey() // swap the declared account
	ix, err := NewExecuteTransactionInstruction(testProgramID, e.msPDA, txPDA, e.members[0], accountList, remaining)
	require.NoError(t, err)
	require.ErrorIs(t, e.program.Process(ix), ErrInvalidInstructionAccount)

	// nothing committed
	tx := e.transaction(txPDA)
	require.Equal(t, StatusExecuteReady, tx.Status)
	require.Equal(t, uint8(0), tx.ExecutedIndex)
	require.False(t, e.instruction(txPDA, 1).Executed)
	require.Empty(t, rec.calls)
}

func TestExecuteFailedSubInstructionRollsBack(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	rec.fail = errors.New("program blew up")
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx())
	err := e.execute(txPDA, e.members[0])
	require.ErrorIs(t, err, ErrInstructionFailed)

	tx := e.transaction(txPDA)
	require.Equal(t, StatusExecuteReady, tx.Status)
	require.False(t, e.instruction(txPDA, 1).Executed)
}

func TestExecuteUnknownProgramFails(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder() // never registered

	txPDA := readyTransaction(e, 1, rec.transferIx())
	require.ErrorIs(t, e.execute(txPDA, e.members[0]), ErrInstructionFailed)
}

func TestExternalExecutePermission(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx())

	outsider := solana.NewWallet().PrivateKey.PublicKey()
	require.ErrorIs(t, e.execute(txPDA, outsider), ErrKeyNotInMultisig)

	e.rewriteMs(func(ms *Ms) { ms.AllowExternalExecute = true })
	require.NoError(t, e.execute(txPDA, outsider))
	require.Equal(t, StatusExecuted, e.transaction(txPDA).Status)
}

func TestSequentialExecution(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx(), rec.transferIx())

	require.NoError(t, e.executeNext(txPDA, e.members[0]))
	tx := e.transaction(txPDA)
	require.Equal(t, StatusExecuteReady, tx.Status)
	require.Equal(t, uint8(1), tx.ExecutedIndex)
	require.True(t, e.instruction(txPDA, 1).Executed)
	require.False(t, e.instruction(txPDA, 2).Executed)

	// the atomic path refuses a partially executed transaction
	require.ErrorIs(t, e.execute(txPDA, e.members[0]), ErrPartialExecution)

	require.NoError(t, e.executeNext(txPDA, e.members[0]))
	tx = e.transaction(txPDA)
	require.Equal(t, StatusExecuted, tx.Status)
	require.Equal(t, uint8(2), tx.ExecutedIndex)
	require.Len(t, rec.calls, 2)
}

func TestSequentialExecutionStrictOrder(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx(), rec.transferIx())

	// skipping ahead to instruction 2 is refused
	second := e.instruction(txPDA, 2)
	ixPDA, _ := GetInstructionPDA(txPDA, 2, testProgramID)
	remaining := append([]AccountMeta{{Pubkey: second.ProgramID}}, second.Keys...)
	ix, err := NewExecuteInstructionInstruction(testProgramID, e.msPDA, txPDA, ixPDA, e.members[0], remaining)
	require.NoError(t, err)
	require.ErrorIs(t, e.program.Process(ix), ErrInvalidInstructionAccount)
}

func TestSequentialExecutionRejectsAuthorityZero(t *testing.T) {
	e := newTestEnv(t, 2, 1)

	addIx, err := NewAddMemberInstruction(testProgramID, e.msPDA, solana.NewWallet().PrivateKey.PublicKey())
	require.NoError(t, err)
	txPDA := readyTransaction(e, 0, addIx)

	require.ErrorIs(t, e.executeNext(txPDA, e.members[0]), ErrInvalidAuthorityIndex)
}

func TestReentrantExecutionRefused(t *testing.T) {
	e := newTestEnv(t, 2, 1)

	// an authority-0 instruction whose payload dispatches back into an
	// execute operation must never run
	inner, err := NewExecuteTransactionInstruction(testProgramID, e.msPDA, e.msPDA, e.members[0], nil, nil)
	require.NoError(t, err)
	inner.ProgramID = testProgramID
	txPDA := readyTransaction(e, 0, inner)

	require.ErrorIs(t, e.execute(txPDA, e.members[0]), ErrReentrantCall)
	require.Equal(t, StatusExecuteReady, e.transaction(txPDA).Status)
}

func TestExecuteShortAccountList(t *testing.T) {
	e := newTestEnv(t, 2, 1)
	rec := newExternalRecorder()
	e.program.RegisterProgram(rec.id, rec.handler)

	txPDA := readyTransaction(e, 1, rec.transferIx(solana.NewWallet().PrivateKey.PublicKey()))

	accountList, remaining := e.batchAccounts(txPDA)
	ix, err := NewExecuteTransactionInstruction(testProgramID, e.msPDA, txPDA, e.members[0], accountList[:1], remaining)
	require.NoError(t, err)
	require.ErrorIs(t, e.program.Process(ix), ErrInvalidNumberOfAccounts)
}
