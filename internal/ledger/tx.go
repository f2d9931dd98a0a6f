package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Transfer describes a single system-program transfer from one address to
// another, pinned to a recent blockhash.
type Transfer struct {
	From      string // base58 payer address, also the fee payer
	To        string // base58 recipient address
	Lamports  uint64
	Blockhash string // base58 recent blockhash
}

// systemProgramID is the system program address (all-zero key).
var systemProgramID = make([]byte, 32)

// transferInstruction is the system program's instruction index for a
// lamport transfer.
const transferInstruction uint32 = 2

// EncodeTransferMessage serializes the unsigned message for a Transfer:
// header, account table [from, to, system program], blockhash, and the
// single transfer instruction. This is the byte string a wallet signs.
func EncodeTransferMessage(t *Transfer) ([]byte, error) {
	from, err := decodeKey(t.From, "from address")
	if err != nil {
		return nil, err
	}
	to, err := decodeKey(t.To, "to address")
	if err != nil {
		return nil, err
	}
	blockhash, err := decodeKey(t.Blockhash, "blockhash")
	if err != nil {
		return nil, err
	}

	var msg []byte

	// Header: one required signature (the payer), no read-only signed
	// accounts, one read-only unsigned account (the system program).
	msg = append(msg, 1, 0, 1)

	// Account table.
	msg = appendCompactU16(msg, 3)
	msg = append(msg, from...)
	msg = append(msg, to...)
	msg = append(msg, systemProgramID...)

	msg = append(msg, blockhash...)

	// One instruction: program index 2 (system program), accounts
	// [payer, recipient], data = u32 instruction tag + u64 lamports.
	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2)
	msg = appendCompactU16(msg, 2)
	msg = append(msg, 0, 1)

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], transferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], t.Lamports)
	msg = appendCompactU16(msg, uint16(len(data)))
	msg = append(msg, data...)

	return msg, nil
}

// WrapSignedMessage prepends the signature table to a signed message,
// producing the wire form SendTransaction submits.
func WrapSignedMessage(signature, message []byte) []byte {
	tx := appendCompactU16(nil, 1)
	tx = append(tx, signature...)
	tx = append(tx, message...)
	return tx
}

// DecodeTransfer parses a wire-form transaction and returns the transfer
// it encodes. Only the canonical single-transfer shape is accepted: one
// signature, three accounts with the system program last, and a single
// transfer instruction. This is what settlement uses to check that a
// client-signed transaction pays what it claims to pay.
func DecodeTransfer(raw []byte) (*Transfer, error) {
	sigCount, rest, err := readCompactU16(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	if sigCount != 1 {
		return nil, fmt.Errorf("invalid transaction: %d signatures, want 1", sigCount)
	}
	if _, rest, err = take(rest, 64); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	// Header.
	header, rest, err := take(rest, 3)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if header[0] != 1 {
		return nil, fmt.Errorf("invalid message: %d required signers, want 1", header[0])
	}

	accountCount, rest, err := readCompactU16(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if accountCount != 3 {
		return nil, fmt.Errorf("invalid message: %d accounts, want 3", accountCount)
	}
	accounts := make([][]byte, 3)
	for i := range accounts {
		if accounts[i], rest, err = take(rest, 32); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
	}
	if !bytes.Equal(accounts[2], systemProgramID) {
		return nil, fmt.Errorf("invalid message: program account is not the system program")
	}

	blockhash, rest, err := take(rest, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	instrCount, rest, err := readCompactU16(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if instrCount != 1 {
		return nil, fmt.Errorf("invalid message: %d instructions, want 1", instrCount)
	}
	programIdx, rest, err := take(rest, 1)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if programIdx[0] != 2 {
		return nil, fmt.Errorf("invalid instruction: program index %d, want 2", programIdx[0])
	}
	idxCount, rest, err := readCompactU16(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if idxCount != 2 {
		return nil, fmt.Errorf("invalid instruction: %d accounts, want 2", idxCount)
	}
	idxs, rest, err := take(rest, 2)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if idxs[0] != 0 || idxs[1] != 1 {
		return nil, fmt.Errorf("invalid instruction: account indexes %v, want [0 1]", idxs)
	}
	dataLen, rest, err := readCompactU16(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if dataLen != 12 {
		return nil, fmt.Errorf("invalid instruction: %d data bytes, want 12", dataLen)
	}
	data, _, err := take(rest, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	if tag := binary.LittleEndian.Uint32(data[:4]); tag != transferInstruction {
		return nil, fmt.Errorf("invalid instruction: tag %d is not a transfer", tag)
	}

	return &Transfer{
		From:      base58.Encode(accounts[0]),
		To:        base58.Encode(accounts[1]),
		Lamports:  binary.LittleEndian.Uint64(data[4:12]),
		Blockhash: base58.Encode(blockhash),
	}, nil
}

// decodeKey decodes a base58 string and checks it is a 32-byte key.
func decodeKey(s, what string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", what, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid %s: got %d bytes, want 32", what, len(b))
	}
	return b, nil
}

// appendCompactU16 appends n in the ledger's compact-u16 encoding
// (little-endian base-128 varint capped at three bytes).
func appendCompactU16(buf []byte, n uint16) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// readCompactU16 reads a compact-u16 from the front of b, returning the
// value and the remaining bytes.
func readCompactU16(b []byte) (uint16, []byte, error) {
	var n uint16
	for i := 0; i < 3; i++ {
		if len(b) == 0 {
			return 0, nil, fmt.Errorf("truncated compact-u16")
		}
		c := b[0]
		b = b[1:]
		n |= uint16(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return n, b, nil
		}
	}
	return 0, nil, fmt.Errorf("compact-u16 longer than three bytes")
}

// take splits off the first n bytes of b.
func take(b []byte, n int) ([]byte, []byte, error) {
	if len(b) < n {
		return nil, nil, fmt.Errorf("truncated: %d bytes left, need %d", len(b), n)
	}
	return b[:n], b[n:], nil
}
