// internal/multisig/registry.go
package multisig

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"squadlet-go/internal/ledger"
)

// memberGrowthChunk is how many member slots a registry account gains
// on each reallocation.
const memberGrowthChunk = 10

// create initializes a registry. Accounts: multisig, creator [signer,
// payer], system program.
func (p *Program) create(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args CreateArgs) error {
	msMeta, err := accountAt(ix, 0)
	if err != nil {
		return err
	}
	creator, err := requireSigner(ix, signers, 1)
	if err != nil {
		return err
	}
	if err := requireSystemProgram(ix, 2); err != nil {
		return err
	}

	members := sortKeys(args.Members)
	if len(members) < 1 {
		return ErrEmptyMembers
	}
	if len(members) > MaxMembers {
		return ErrMaxMembersReached
	}
	if args.Threshold < 1 || int(args.Threshold) > len(members) {
		return ErrInvalidThreshold
	}

	expected, bump := GetMultisigPDA(args.CreateKey, p.ID)
	if !expected.Equals(msMeta.Pubkey) {
		return fmt.Errorf("%w: multisig address does not match create key derivation", ErrInvalidInstructionAccount)
	}

	acct, err := p.createAccount(st, msMeta.Pubkey, creator, MsSizeWithoutMembers+len(members)*32)
	if err != nil {
		return err
	}

	ms := Ms{
		Threshold:            args.Threshold,
		AuthorityIndex:       1, // the default vault
		TransactionIndex:     0,
		MsChangeIndex:        0,
		Bump:                 bump,
		CreateKey:            args.CreateKey,
		AllowExternalExecute: false,
		Keys:                 members,
	}
	return p.persist(st, acct, msDiscriminator, &ms)
}

// addMemberToMs grows the registry account by a chunk of member slots
// when full. The account must already hold the lamports the larger
// allocation needs; the engine never tops it up itself.
func addMemberToMs(ms *Ms, acct *ledger.Account, newMember solana.PublicKey) error {
	if len(ms.Keys) >= MaxMembers {
		return ErrMaxMembersReached
	}

	spotsLeft := (len(acct.Data)-MsSizeWithoutMembers)/32 - len(ms.Keys)
	if spotsLeft < 1 {
		neededLen := len(acct.Data) + memberGrowthChunk*32
		rentExempt := ledger.MinimumBalance(neededLen)
		if acct.Lamports < rentExempt {
			return fmt.Errorf("%w: realloc to %d bytes needs %d lamports, account holds %d",
				ErrNotEnoughLamports, neededLen, rentExempt, acct.Lamports)
		}
		grown := make([]byte, neededLen)
		copy(grown, acct.Data)
		acct.Data = grown
	}

	ms.AddMember(newMember)
	return nil
}

// applyThreshold validates and applies a threshold change, clamping
// values above the member count down to it.
func applyThreshold(ms *Ms, newThreshold uint16) error {
	if newThreshold < 1 {
		return ErrInvalidThreshold
	}
	if int(newThreshold) > len(ms.Keys) {
		newThreshold = uint16(len(ms.Keys))
	}
	ms.ChangeThreshold(newThreshold)
	return nil
}

func (p *Program) addMember(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args AddMemberArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	if err := addMemberToMs(ms, acct, args.NewMember); err != nil {
		return err
	}
	ms.SetChangeIndex(ms.TransactionIndex)
	return p.persist(st, acct, msDiscriminator, ms)
}

func (p *Program) removeMember(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args RemoveMemberArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	if len(ms.Keys) == 1 {
		return ErrCannotRemoveSoloMember
	}
	ms.RemoveMember(args.OldMember)
	ms.SetChangeIndex(ms.TransactionIndex)
	return p.persist(st, acct, msDiscriminator, ms)
}

func (p *Program) changeThreshold(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args ChangeThresholdArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	if err := applyThreshold(ms, args.NewThreshold); err != nil {
		return err
	}
	ms.SetChangeIndex(ms.TransactionIndex)
	return p.persist(st, acct, msDiscriminator, ms)
}

func (p *Program) addMemberAndChangeThreshold(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args AddMemberAndChangeThresholdArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	if err := addMemberToMs(ms, acct, args.NewMember); err != nil {
		return err
	}
	if err := applyThreshold(ms, args.NewThreshold); err != nil {
		return err
	}
	ms.SetChangeIndex(ms.TransactionIndex)
	return p.persist(st, acct, msDiscriminator, ms)
}

func (p *Program) removeMemberAndChangeThreshold(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args RemoveMemberAndChangeThresholdArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	if len(ms.Keys) == 1 {
		return ErrCannotRemoveSoloMember
	}
	ms.RemoveMember(args.OldMember)
	if err := applyThreshold(ms, args.NewThreshold); err != nil {
		return err
	}
	ms.SetChangeIndex(ms.TransactionIndex)
	return p.persist(st, acct, msDiscriminator, ms)
}

// addAuthority bumps the tracked authority counter. Authorities are
// pure derivations, so no change index is stamped.
func (p *Program) addAuthority(st ledger.Tx, ix Instruction, signers []solana.PublicKey) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	ms.AddAuthority()
	return p.persist(st, acct, msDiscriminator, ms)
}

// setExternalExecute toggles whether non-members may trigger execution
// of an ExecuteReady transaction. Voting stays member-only regardless.
func (p *Program) setExternalExecute(st ledger.Tx, ix Instruction, signers []solana.PublicKey, args SetExternalExecuteArgs) error {
	ms, acct, err := p.requireMsAuth(st, ix, signers)
	if err != nil {
		return err
	}
	ms.AllowExternalExecute = args.AllowExecute
	return p.persist(st, acct, msDiscriminator, ms)
}
