// internal/multisig/pda.go
package multisig

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed namespace shared by every account the program owns. The seeds
// mirror the account layout: multisigs hang off a create key,
// transactions off their multisig, instructions off their transaction,
// and authorities off the multisig plus an index.
var (
	seedPrefix      = []byte("squad")
	seedMultisig    = []byte("multisig")
	seedTransaction = []byte("transaction")
	seedInstruction = []byte("instruction")
	seedAuthority   = []byte("authority")
)

// GetMultisigPDA derives the registry address for a create key. The same
// derivation doubles as the authority-0 signing identity.
func GetMultisigPDA(createKey, programID solana.PublicKey) (solana.PublicKey, uint8) {
	seeds := [][]byte{
		seedPrefix,
		createKey.Bytes(),
		seedMultisig,
	}

	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("failed to find multisig PDA: %v", err))
	}
	return pda, bump
}

// GetAuthorityPDA derives the vault authority for an index of 1 or
// greater. Index 0 is the multisig address itself; use GetMultisigPDA.
func GetAuthorityPDA(multisigPDA solana.PublicKey, authorityIndex uint32, programID solana.PublicKey) (solana.PublicKey, uint8) {
	seeds := [][]byte{
		seedPrefix,
		multisigPDA.Bytes(),
		uint32ToBytes(authorityIndex),
		seedAuthority,
	}

	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("failed to find authority PDA: %v", err))
	}
	return pda, bump
}

// GetTransactionPDA derives the address of the transaction record with
// the given index under a multisig.
func GetTransactionPDA(multisigPDA solana.PublicKey, transactionIndex uint32, programID solana.PublicKey) (solana.PublicKey, uint8) {
	seeds := [][]byte{
		seedPrefix,
		multisigPDA.Bytes(),
		uint32ToBytes(transactionIndex),
		seedTransaction,
	}

	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("failed to find transaction PDA: %v", err))
	}
	return pda, bump
}

// GetInstructionPDA derives the address of the instruction record with
// the given 1-based index under a transaction.
func GetInstructionPDA(transactionPDA solana.PublicKey, instructionIndex uint8, programID solana.PublicKey) (solana.PublicKey, uint8) {
	seeds := [][]byte{
		seedPrefix,
		transactionPDA.Bytes(),
		{instructionIndex},
		seedInstruction,
	}

	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		panic(fmt.Sprintf("failed to find instruction PDA: %v", err))
	}
	return pda, bump
}

// Helper to convert uint32 to little-endian bytes for seeding
func uint32ToBytes(value uint32) []byte {
	bytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(bytes, value)
	return bytes
}
