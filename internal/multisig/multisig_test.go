// internal/multisig/multisig_test.go
package multisig

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"squadlet-go/internal/ledger"
)

var testProgramID = solana.MustPublicKeyFromBase58("SMPLecH534NA9acpos4G6x7uf3LWbCAwZQE9e8ZekMu")

// testEnv wires one program engine against a fresh in-memory ledger
// with a deployed registry and funded members.
type testEnv struct {
	t       *testing.T
	store   *ledger.MemoryStore
	program *Program

	createKey solana.PublicKey
	msPDA     solana.PublicKey
	members   []solana.PublicKey
}

func newTestEnv(t *testing.T, memberCount int, threshold uint16) *testEnv {
	t.Helper()

	e := &testEnv{
		t:     t,
		store: ledger.NewMemoryStore(),
	}
	e.program = New(testProgramID, e.store)

	for i := 0; i < memberCount; i++ {
		member := solana.NewWallet().PrivateKey.PublicKey()
		e.members = append(e.members, member)
		e.fund(member, 100*ledger.LamportsPerSOL)
	}

	e.createKey = solana.NewWallet().PrivateKey.PublicKey()
	e.msPDA, _ = GetMultisigPDA(e.createKey, testProgramID)

	ix, err := NewCreateInstruction(testProgramID, e.msPDA, e.members[0], CreateArgs{
		Threshold: threshold,
		CreateKey: e.createKey,
		Members:   append([]solana.PublicKey{}, e.members...),
	})
	require.NoError(t, err)
	require.NoError(t, e.program.Process(ix))
	return e
}

func (e *testEnv) fund(key solana.PublicKey, lamports uint64) {
	e.t.Helper()
	err := e.store.Update(func(st ledger.Tx) error {
		acct, err := st.Get(key)
		if err != nil {
			acct = &ledger.Account{Key: key, Owner: solana.SystemProgramID}
		}
		acct.Lamports += lamports
		return st.Put(acct)
	})
	require.NoError(e.t, err)
}

func (e *testEnv) account(key solana.PublicKey) *ledger.Account {
	e.t.Helper()
	var acct *ledger.Account
	err := e.store.View(func(st ledger.Tx) error {
		var err error
		acct, err = st.Get(key)
		return err
	})
	require.NoError(e.t, err)
	return acct
}

func (e *testEnv) ms() *Ms {
	e.t.Helper()
	ms, err := DecodeMs(e.account(e.msPDA).Data)
	require.NoError(e.t, err)
	return ms
}

func (e *testEnv) transaction(txPDA solana.PublicKey) *MsTransaction {
	e.t.Helper()
	tx, err := DecodeMsTransaction(e.account(txPDA).Data)
	require.NoError(e.t, err)
	return tx
}

func (e *testEnv) instruction(txPDA solana.PublicKey, index uint8) *MsInstruction {
	e.t.Helper()
	ixPDA, _ := GetInstructionPDA(txPDA, index, testProgramID)
	rec, err := DecodeMsInstruction(e.account(ixPDA).Data)
	require.NoError(e.t, err)
	return rec
}

// rewriteMs lets tests put the registry record into states that are
// awkward to reach through the public operations.
func (e *testEnv) rewriteMs(mutate func(ms *Ms)) {
	e.t.Helper()
	err := e.store.Update(func(st ledger.Tx) error {
		acct, err := st.Get(e.msPDA)
		if err != nil {
			return err
		}
		ms, err := DecodeMs(acct.Data)
		if err != nil {
			return err
		}
		mutate(ms)
		serialized, err := marshalRecord(msDiscriminator, ms)
		if err != nil {
			return err
		}
		data := make([]byte, len(acct.Data))
		copy(data, serialized)
		acct.Data = data
		return st.Put(acct)
	})
	require.NoError(e.t, err)
}

// rewriteTransaction does the same for a transaction record.
func (e *testEnv) rewriteTransaction(txPDA solana.PublicKey, mutate func(tx *MsTransaction)) {
	e.t.Helper()
	err := e.store.Update(func(st ledger.Tx) error {
		acct, err := st.Get(txPDA)
		if err != nil {
			return err
		}
		tx, err := DecodeMsTransaction(acct.Data)
		if err != nil {
			return err
		}
		mutate(tx)
		serialized, err := marshalRecord(msTransactionDiscriminator, tx)
		if err != nil {
			return err
		}
		data := make([]byte, len(acct.Data))
		copy(data, serialized)
		acct.Data = data
		return st.Put(acct)
	})
	require.NoError(e.t, err)
}

func (e *testEnv) createTransaction(creator solana.PublicKey, authorityIndex uint32) solana.PublicKey {
	e.t.Helper()
	txPDA, err := e.tryCreateTransaction(creator, authorityIndex)
	require.NoError(e.t, err)
	return txPDA
}

func (e *testEnv) tryCreateTransaction(creator solana.PublicKey, authorityIndex uint32) (solana.PublicKey, error) {
	nextIndex := e.ms().TransactionIndex + 1
	txPDA, _ := GetTransactionPDA(e.msPDA, nextIndex, testProgramID)
	ix, err := NewCreateTransactionInstruction(testProgramID, e.msPDA, txPDA, creator, authorityIndex)
	require.NoError(e.t, err)
	return txPDA, e.program.Process(ix)
}

func (e *testEnv) addInstruction(txPDA, creator solana.PublicKey, incoming Instruction) solana.PublicKey {
	e.t.Helper()
	ixPDA, err := e.tryAddInstruction(txPDA, creator, incoming)
	require.NoError(e.t, err)
	return ixPDA
}

func (e *testEnv) tryAddInstruction(txPDA, creator solana.PublicKey, incoming Instruction) (solana.PublicKey, error) {
	nextIndex := e.transaction(txPDA).InstructionIndex + 1
	ixPDA, _ := GetInstructionPDA(txPDA, nextIndex, testProgramID)
	ix, err := NewAddInstructionInstruction(testProgramID, e.msPDA, txPDA, ixPDA, creator, incoming)
	require.NoError(e.t, err)
	return ixPDA, e.program.Process(ix)
}

func (e *testEnv) activate(txPDA, creator solana.PublicKey) error {
	ix, err := NewActivateTransactionInstruction(testProgramID, e.msPDA, txPDA, creator)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

func (e *testEnv) approve(txPDA, member solana.PublicKey) error {
	ix, err := NewApproveTransactionInstruction(testProgramID, e.msPDA, txPDA, member)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

func (e *testEnv) reject(txPDA, member solana.PublicKey) error {
	ix, err := NewRejectTransactionInstruction(testProgramID, e.msPDA, txPDA, member)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

func (e *testEnv) cancel(txPDA, member solana.PublicKey) error {
	ix, err := NewCancelTransactionInstruction(testProgramID, e.msPDA, txPDA, member)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

// batchAccounts builds the remaining-accounts layout for the atomic
// execute path from the staged records, with an identity account list.
func (e *testEnv) batchAccounts(txPDA solana.PublicKey) ([]byte, []AccountMeta) {
	e.t.Helper()
	tx := e.transaction(txPDA)
	var remaining []AccountMeta
	for i := uint8(1); i <= tx.InstructionIndex; i++ {
		ixPDA, _ := GetInstructionPDA(txPDA, i, testProgramID)
		rec := e.instruction(txPDA, i)
		remaining = append(remaining, AccountMeta{Pubkey: ixPDA})
		remaining = append(remaining, AccountMeta{Pubkey: rec.ProgramID})
		remaining = append(remaining, rec.Keys...)
	}
	accountList := make([]byte, len(remaining))
	for i := range remaining {
		accountList[i] = byte(i)
	}
	return accountList, remaining
}

func (e *testEnv) execute(txPDA, member solana.PublicKey) error {
	accountList, remaining := e.batchAccounts(txPDA)
	ix, err := NewExecuteTransactionInstruction(testProgramID, e.msPDA, txPDA, member, accountList, remaining)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

func (e *testEnv) executeNext(txPDA, member solana.PublicKey) error {
	tx := e.transaction(txPDA)
	rec := e.instruction(txPDA, tx.ExecutedIndex+1)
	ixPDA, _ := GetInstructionPDA(txPDA, rec.InstructionIndex, testProgramID)
	remaining := append([]AccountMeta{{Pubkey: rec.ProgramID}}, rec.Keys...)
	ix, err := NewExecuteInstructionInstruction(testProgramID, e.msPDA, txPDA, ixPDA, member, remaining)
	require.NoError(e.t, err)
	return e.program.Process(ix)
}

// approveToQuorum walks members through approvals until the proposal
// flips to ExecuteReady.
func (e *testEnv) approveToQuorum(txPDA solana.PublicKey) {
	e.t.Helper()
	threshold := int(e.ms().Threshold)
	for i := 0; i < threshold; i++ {
		require.NoError(e.t, e.approve(txPDA, e.members[i]))
	}
	require.Equal(e.t, StatusExecuteReady, e.transaction(txPDA).Status)
}

// externalRecorder is a stub foreign program capturing its invocations.
type externalRecorder struct {
	id      solana.PublicKey
	calls   []Instruction
	signers [][]solana.PublicKey
	fail    error
}

func newExternalRecorder() *externalRecorder {
	return &externalRecorder{id: solana.NewWallet().PrivateKey.PublicKey()}
}

func (r *externalRecorder) handler(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, ix)
	r.signers = append(r.signers, signers)
	return nil
}

// transferIx is a minimal payload targeting the recorder program.
func (r *externalRecorder) transferIx(accounts ...solana.PublicKey) Instruction {
	keys := make([]AccountMeta, len(accounts))
	for i, a := range accounts {
		keys[i] = AccountMeta{Pubkey: a, IsWritable: true}
	}
	return Instruction{ProgramID: r.id, Keys: keys, Data: []byte{1, 2, 3, 4}}
}
