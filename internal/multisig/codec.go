// internal/multisig/codec.go
package multisig

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Records and instruction payloads are borsh serialized behind an
// 8-byte discriminator derived from the type or operation name, so
// both sides of the wire can recompute it.

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

func instructionDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

var (
	msDiscriminator            = accountDiscriminator("Ms")
	msTransactionDiscriminator = accountDiscriminator("MsTransaction")
	msInstructionDiscriminator = accountDiscriminator("MsInstruction")
)

// Operation discriminators, in the order the dispatcher handles them.
var (
	ixCreate                          = instructionDiscriminator("create")
	ixAddMember                       = instructionDiscriminator("add_member")
	ixRemoveMember                    = instructionDiscriminator("remove_member")
	ixChangeThreshold                 = instructionDiscriminator("change_threshold")
	ixAddMemberAndChangeThreshold     = instructionDiscriminator("add_member_and_change_threshold")
	ixRemoveMemberAndChangeThreshold  = instructionDiscriminator("remove_member_and_change_threshold")
	ixAddAuthority                    = instructionDiscriminator("add_authority")
	ixSetExternalExecute              = instructionDiscriminator("set_external_execute")
	ixCreateTransaction               = instructionDiscriminator("create_transaction")
	ixAddInstruction                  = instructionDiscriminator("add_instruction")
	ixActivateTransaction             = instructionDiscriminator("activate_transaction")
	ixApproveTransaction              = instructionDiscriminator("approve_transaction")
	ixRejectTransaction               = instructionDiscriminator("reject_transaction")
	ixCancelTransaction               = instructionDiscriminator("cancel_transaction")
	ixExecuteTransaction              = instructionDiscriminator("execute_transaction")
	ixExecuteInstruction              = instructionDiscriminator("execute_instruction")
)

func marshalRecord(disc [8]byte, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalRecord(disc [8]byte, data []byte, v interface{}) error {
	if len(data) < 8 || !bytes.Equal(data[:8], disc[:]) {
		return fmt.Errorf("%w: record discriminator mismatch", ErrInvalidInstructionAccount)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionAccount, err)
	}
	return nil
}

func marshalArgs(disc [8]byte, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(disc[:])
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("failed to serialize args: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalArgs(data []byte, args interface{}) error {
	if err := bin.NewBorshDecoder(data).Decode(args); err != nil {
		return fmt.Errorf("failed to deserialize args: %w", err)
	}
	return nil
}
