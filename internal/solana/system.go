package solana

import (
	"encoding/binary"

	solanago "github.com/gagliardetto/solana-go"
)

// SystemProgramID is the native system program.
var SystemProgramID = solanago.SystemProgramID

// systemTransferInstruction is the system program's Transfer discriminator.
const systemTransferInstruction = 2

// NewTransferMessage builds a legacy message moving lamports from one account
// to another, paid for and signed by from.
func NewTransferMessage(from, to PublicKey, lamports uint64, blockhash Hash) Message {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	keys := []PublicKey{from}
	toIndex := uint8(0)
	if to != from {
		keys = append(keys, to)
		toIndex = 1
	}
	keys = append(keys, SystemProgramID)

	return Message{
		Version: LegacyVersion,
		Header: MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlyUnsignedAccounts: 1,
		},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions: []CompiledInstruction{{
			ProgramIDIndex: uint8(len(keys) - 1),
			Accounts:       []uint8{0, toIndex},
			Data:           data,
		}},
	}
}
