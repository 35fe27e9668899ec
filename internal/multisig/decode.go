// internal/multisig/decode.go
package multisig

// Exported decoders for read-side callers that fetch raw account data
// out of the store (API handlers, tooling). The engine itself goes
// through its loaders, which also verify ownership and derivation.

func DecodeMs(data []byte) (*Ms, error) {
	var ms Ms
	if err := unmarshalRecord(msDiscriminator, data, &ms); err != nil {
		return nil, err
	}
	return &ms, nil
}

func DecodeMsTransaction(data []byte) (*MsTransaction, error) {
	var tx MsTransaction
	if err := unmarshalRecord(msTransactionDiscriminator, data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func DecodeMsInstruction(data []byte) (*MsInstruction, error) {
	var rec MsInstruction
	if err := unmarshalRecord(msInstructionDiscriminator, data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
