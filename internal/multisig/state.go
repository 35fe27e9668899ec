// internal/multisig/state.go
package multisig

import (
	"bytes"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// MsTransactionStatus is the lifecycle state of a transaction record.
type MsTransactionStatus uint8

const (
	StatusDraft        MsTransactionStatus = iota // freshly created, instructions can be attached
	StatusActive                                  // live and ready for votes
	StatusExecuteReady                            // approved and pending execution
	StatusExecuted                                // executed
	StatusRejected                                // rejected by vote
	StatusCancelled                               // cancelled after reaching ExecuteReady
)

func (s MsTransactionStatus) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusActive:
		return "active"
	case StatusExecuteReady:
		return "executeReady"
	case StatusExecuted:
		return "executed"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Ms is the registry record: membership, threshold and index state for
// one deployed multisig. Field order is the serialized order.
type Ms struct {
	Threshold            uint16
	AuthorityIndex       uint16
	TransactionIndex     uint32
	MsChangeIndex        uint32
	Bump                 uint8
	CreateKey            solana.PublicKey
	AllowExternalExecute bool
	Keys                 []solana.PublicKey
}

// MsSizeWithoutMembers is the serialized size of a registry account
// before any member keys, including the 8-byte account discriminator
// and the member vec length prefix.
const MsSizeWithoutMembers = 8 + // account discriminator
	2 + // threshold
	2 + // authority index
	4 + // transaction index
	4 + // change index
	1 + // PDA bump
	32 + // create key
	1 + // allow external execute
	4 // member vec length

// MaxMembers caps the member list at what the u16 threshold can express.
const MaxMembers = int(^uint16(0))

func (ms *Ms) IsMember(member solana.PublicKey) (int, bool) {
	return searchKeys(ms.Keys, member)
}

// AddMember inserts a key keeping the member list sorted. Re-adding an
// existing member is a no-op.
func (ms *Ms) AddMember(member solana.PublicKey) {
	if _, ok := searchKeys(ms.Keys, member); !ok {
		ms.Keys = insertKey(ms.Keys, member)
	}
}

// RemoveMember drops a key; if the remaining member count falls below
// the threshold, the threshold is clamped down to match.
func (ms *Ms) RemoveMember(member solana.PublicKey) {
	if ind, ok := searchKeys(ms.Keys, member); ok {
		ms.Keys = append(ms.Keys[:ind], ms.Keys[ind+1:]...)
		if len(ms.Keys) < int(ms.Threshold) {
			ms.Threshold = uint16(len(ms.Keys))
		}
	}
}

func (ms *Ms) ChangeThreshold(threshold uint16) {
	ms.Threshold = threshold
}

// SetChangeIndex stamps the current transaction counter, deprecating
// every transaction created at or before it.
func (ms *Ms) SetChangeIndex(index uint32) {
	ms.MsChangeIndex = index
}

// AddAuthority bumps the authority tracking index. Authorities are
// plain derivations, so this only matters for UI bookkeeping.
func (ms *Ms) AddAuthority() {
	ms.AuthorityIndex++
}

// MsTransaction is one proposal: status, authority selection and the
// three vote sets.
type MsTransaction struct {
	Creator          solana.PublicKey
	Ms               solana.PublicKey
	TransactionIndex uint32
	AuthorityIndex   uint32
	AuthorityBump    uint8
	Status           MsTransactionStatus
	InstructionIndex uint8
	Bump             uint8
	Approved         []solana.PublicKey
	Rejected         []solana.PublicKey
	Cancelled        []solana.PublicKey
	ExecutedIndex    uint8
}

// msTransactionMinimumSize is the allocation size of a transaction
// record before the vote vecs, with the same enum padding the original
// layout reserves.
const msTransactionMinimumSize = 32 + // creator
	32 + // multisig key
	4 + // transaction index
	4 + // authority index
	1 + // authority bump
	(1 + 12) + // status enum padding
	1 + // instruction index
	1 + // record bump
	1 // executed index

// MsTransactionSize returns the allocation size for a transaction
// record under a registry with the given member count: each of the
// three vote vecs may grow to hold every member.
func MsTransactionSize(membersLen int) int {
	return 8 + msTransactionMinimumSize + 3*(4+membersLen*32)
}

func (tx *MsTransaction) Activate()       { tx.Status = StatusActive }
func (tx *MsTransaction) ReadyToExecute() { tx.Status = StatusExecuteReady }
func (tx *MsTransaction) SetRejected()    { tx.Status = StatusRejected }
func (tx *MsTransaction) SetCancelled()   { tx.Status = StatusCancelled }
func (tx *MsTransaction) SetExecuted()    { tx.Status = StatusExecuted }

// Sign records an approval vote, keeping the set sorted.
func (tx *MsTransaction) Sign(member solana.PublicKey) {
	tx.Approved = insertKey(tx.Approved, member)
}

// Reject records a rejection vote, keeping the set sorted.
func (tx *MsTransaction) Reject(member solana.PublicKey) {
	tx.Rejected = insertKey(tx.Rejected, member)
}

// Cancel records a cancellation vote, keeping the set sorted.
func (tx *MsTransaction) Cancel(member solana.PublicKey) {
	tx.Cancelled = insertKey(tx.Cancelled, member)
}

func (tx *MsTransaction) HasVotedApprove(member solana.PublicKey) (int, bool) {
	return searchKeys(tx.Approved, member)
}

func (tx *MsTransaction) HasVotedReject(member solana.PublicKey) (int, bool) {
	return searchKeys(tx.Rejected, member)
}

func (tx *MsTransaction) HasCancelled(member solana.PublicKey) (int, bool) {
	return searchKeys(tx.Cancelled, member)
}

func (tx *MsTransaction) RemoveApprove(ind int) {
	tx.Approved = append(tx.Approved[:ind], tx.Approved[ind+1:]...)
}

func (tx *MsTransaction) RemoveReject(ind int) {
	tx.Rejected = append(tx.Rejected[:ind], tx.Rejected[ind+1:]...)
}

// AccountMeta is one account reference in a staged instruction.
type AccountMeta struct {
	Pubkey     solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a fully specified invocable instruction: the target
// program, its account list in declared order, and the opaque payload.
// It is both the wire form submitted to the program and the form staged
// inside an MsInstruction record.
type Instruction struct {
	ProgramID solana.PublicKey
	Keys      []AccountMeta
	Data      []byte
}

// MsInstruction is one staged instruction record belonging to a
// transaction.
type MsInstruction struct {
	ProgramID        solana.PublicKey
	Keys             []AccountMeta
	Data             []byte
	InstructionIndex uint8
	Bump             uint8
	Executed         bool
}

// ToInstruction rebuilds the invocable instruction from the record.
func (mi *MsInstruction) ToInstruction() Instruction {
	keys := make([]AccountMeta, len(mi.Keys))
	copy(keys, mi.Keys)
	data := make([]byte, len(mi.Data))
	copy(data, mi.Data)
	return Instruction{ProgramID: mi.ProgramID, Keys: keys, Data: data}
}

// searchKeys binary-searches a sorted key slice.
func searchKeys(keys []solana.PublicKey, k solana.PublicKey) (int, bool) {
	ind := sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i][:], k[:]) >= 0
	})
	if ind < len(keys) && keys[ind].Equals(k) {
		return ind, true
	}
	return ind, false
}

// insertKey inserts into a sorted key slice, preserving order.
func insertKey(keys []solana.PublicKey, k solana.PublicKey) []solana.PublicKey {
	ind, _ := searchKeys(keys, k)
	keys = append(keys, solana.PublicKey{})
	copy(keys[ind+1:], keys[ind:])
	keys[ind] = k
	return keys
}

// sortKeys sorts and deduplicates a member list in place.
func sortKeys(keys []solana.PublicKey) []solana.PublicKey {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || !k.Equals(out[len(out)-1]) {
			out = append(out, k)
		}
	}
	return out
}
