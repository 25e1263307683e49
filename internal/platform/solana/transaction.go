package solana

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTooManyAccounts is returned when a message references more than 256
// accounts.
var ErrTooManyAccounts = errors.New("solana: too many accounts in message")

// MessageHeader counts the signer and read-only sections of AccountKeys.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// NewMessage compiles instructions into a legacy message paid for by feePayer.
// Accounts are ordered signer-writable, signer-readonly, writable, readonly,
// keeping first-seen order within each group.
func NewMessage(feePayer PublicKey, ixs []Instruction, blockhash Hash) (Message, error) {
	type entry struct {
		meta AccountMeta
	}
	index := map[PublicKey]*entry{}
	var entries []*entry
	add := func(m AccountMeta) {
		if e, ok := index[m.PublicKey]; ok {
			e.meta.IsSigner = e.meta.IsSigner || m.IsSigner
			e.meta.IsWritable = e.meta.IsWritable || m.IsWritable
			return
		}
		e := &entry{meta: m}
		index[m.PublicKey] = e
		entries = append(entries, e)
	}

	add(AccountMeta{PublicKey: feePayer, IsSigner: true, IsWritable: true})
	for _, ix := range ixs {
		for _, a := range ix.Accounts {
			add(a)
		}
		add(Readonly(ix.ProgramID))
	}
	if len(entries) > 256 {
		return Message{}, ErrTooManyAccounts
	}

	rank := func(m AccountMeta) int {
		switch {
		case m.IsSigner && m.IsWritable:
			return 0
		case m.IsSigner:
			return 1
		case m.IsWritable:
			return 2
		default:
			return 3
		}
	}
	// The fee payer is first-seen and signer-writable, so a stable sort keeps
	// it at index 0.
	sort.SliceStable(entries, func(i, j int) bool {
		return rank(entries[i].meta) < rank(entries[j].meta)
	})

	msg := Message{RecentBlockhash: blockhash}
	positions := make(map[PublicKey]uint8, len(entries))
	for i, e := range entries {
		positions[e.meta.PublicKey] = uint8(i)
		msg.AccountKeys = append(msg.AccountKeys, e.meta.PublicKey)
		switch rank(e.meta) {
		case 0:
			msg.Header.NumRequiredSignatures++
		case 1:
			msg.Header.NumRequiredSignatures++
			msg.Header.NumReadonlySignedAccounts++
		case 3:
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range ixs {
		ci := CompiledInstruction{
			ProgramIDIndex: positions[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for i, a := range ix.Accounts {
			ci.Accounts[i] = positions[a.PublicKey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Serialize encodes the message in wire format.
func (m Message) Serialize() []byte {
	buf := []byte{
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	}
	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}
	buf = append(buf, m.RecentBlockhash[:]...)
	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendCompactU16(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Transaction is a legacy transaction.
type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewTransaction compiles ixs into an unsigned transaction.
func NewTransaction(feePayer PublicKey, ixs []Instruction, blockhash Hash) (*Transaction, error) {
	msg, err := NewMessage(feePayer, ixs, blockhash)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// Sign fills in every required signature. Each required signer must be among
// signers.
func (t *Transaction) Sign(signers ...Signer) error {
	payload := t.Message.Serialize()
	for i := 0; i < int(t.Message.Header.NumRequiredSignatures); i++ {
		key := t.Message.AccountKeys[i]
		s := findSigner(signers, key)
		if s == nil {
			return fmt.Errorf("solana: missing signer %s", key)
		}
		sig, err := s.Sign(payload)
		if err != nil {
			return fmt.Errorf("solana: sign: %w", err)
		}
		t.Signatures[i] = sig
	}
	return nil
}

// Signature returns the transaction identifier.
func (t *Transaction) Signature() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}

// Serialize encodes the signed transaction in wire format.
func (t *Transaction) Serialize() ([]byte, error) {
	for i, s := range t.Signatures {
		if s.IsZero() {
			return nil, fmt.Errorf("solana: signature %d missing", i)
		}
	}
	buf := appendCompactU16(nil, len(t.Signatures))
	for _, s := range t.Signatures {
		buf = append(buf, s[:]...)
	}
	return append(buf, t.Message.Serialize()...), nil
}

// RawTransaction is an already-compiled legacy or versioned transaction, such
// as one returned by a swap aggregator. Only the blockhash and signatures are
// editable.
type RawTransaction struct {
	signatures      []Signature
	message         []byte
	numSigners      int
	accountKeys     []PublicKey
	blockhashOffset int
	programs        []PublicKey
}

// ParseRawTransaction decodes a wire-format transaction.
func ParseRawTransaction(b []byte) (*RawTransaction, error) {
	n, off, err := readCompactU16(b, 0)
	if err != nil {
		return nil, fmt.Errorf("solana: parse transaction: %w", err)
	}
	if off+n*64 > len(b) {
		return nil, fmt.Errorf("solana: parse transaction: truncated signatures")
	}
	tx := &RawTransaction{signatures: make([]Signature, n)}
	for i := 0; i < n; i++ {
		copy(tx.signatures[i][:], b[off:off+64])
		off += 64
	}
	tx.message = append([]byte(nil), b[off:]...)

	m := tx.message
	pos := 0
	if len(m) == 0 {
		return nil, fmt.Errorf("solana: parse transaction: empty message")
	}
	if m[0]&0x80 != 0 {
		// Versioned message prefix.
		pos++
	}
	if pos+3 > len(m) {
		return nil, fmt.Errorf("solana: parse transaction: truncated header")
	}
	tx.numSigners = int(m[pos])
	pos += 3
	keys, pos, err := readCompactU16(m, pos)
	if err != nil {
		return nil, fmt.Errorf("solana: parse transaction: %w", err)
	}
	if pos+keys*32+32 > len(m) {
		return nil, fmt.Errorf("solana: parse transaction: truncated account keys")
	}
	tx.accountKeys = make([]PublicKey, keys)
	for i := 0; i < keys; i++ {
		copy(tx.accountKeys[i][:], m[pos:pos+32])
		pos += 32
	}
	tx.blockhashOffset = pos
	if tx.numSigners != n || tx.numSigners > keys {
		return nil, fmt.Errorf("solana: parse transaction: signer count mismatch")
	}

	pos += 32
	ixs, pos, err := readCompactU16(m, pos)
	if err != nil {
		return nil, fmt.Errorf("solana: parse transaction: %w", err)
	}
	for i := 0; i < ixs; i++ {
		if pos >= len(m) {
			return nil, fmt.Errorf("solana: parse transaction: truncated instructions")
		}
		idx := int(m[pos])
		pos++
		if idx >= keys {
			return nil, fmt.Errorf("solana: parse transaction: program index %d out of range", idx)
		}
		tx.programs = append(tx.programs, tx.accountKeys[idx])
		for j := 0; j < 2; j++ {
			var l int
			l, pos, err = readCompactU16(m, pos)
			if err != nil {
				return nil, fmt.Errorf("solana: parse transaction: %w", err)
			}
			pos += l
		}
		if pos > len(m) {
			return nil, fmt.Errorf("solana: parse transaction: truncated instructions")
		}
	}
	return tx, nil
}

// Programs returns the program invoked by each instruction, in order.
func (t *RawTransaction) Programs() []PublicKey {
	return t.programs
}

// RecentBlockhash returns the blockhash currently in the message.
func (t *RawTransaction) RecentBlockhash() Hash {
	var h Hash
	copy(h[:], t.message[t.blockhashOffset:t.blockhashOffset+32])
	return h
}

// SetRecentBlockhash replaces the blockhash and clears existing signatures.
func (t *RawTransaction) SetRecentBlockhash(h Hash) {
	copy(t.message[t.blockhashOffset:], h[:])
	for i := range t.signatures {
		t.signatures[i] = Signature{}
	}
}

// FeePayer returns the first account key.
func (t *RawTransaction) FeePayer() PublicKey {
	return t.accountKeys[0]
}

// Sign signs with every provided signer that the message requires.
func (t *RawTransaction) Sign(signers ...Signer) error {
	for i := 0; i < t.numSigners; i++ {
		s := findSigner(signers, t.accountKeys[i])
		if s == nil {
			continue
		}
		sig, err := s.Sign(t.message)
		if err != nil {
			return fmt.Errorf("solana: sign: %w", err)
		}
		t.signatures[i] = sig
	}
	return nil
}

// Signature returns the transaction identifier.
func (t *RawTransaction) Signature() Signature {
	if len(t.signatures) == 0 {
		return Signature{}
	}
	return t.signatures[0]
}

// Serialize encodes the transaction in wire format.
func (t *RawTransaction) Serialize() ([]byte, error) {
	for i, s := range t.signatures {
		if s.IsZero() {
			return nil, fmt.Errorf("solana: signature %d missing", i)
		}
	}
	buf := appendCompactU16(nil, len(t.signatures))
	for _, s := range t.signatures {
		buf = append(buf, s[:]...)
	}
	return append(buf, t.message...), nil
}

func findSigner(signers []Signer, key PublicKey) Signer {
	for _, s := range signers {
		if s.PublicKey() == key {
			return s
		}
	}
	return nil
}

func appendCompactU16(buf []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

func readCompactU16(b []byte, off int) (int, int, error) {
	var n, shift int
	for i := 0; i < 3; i++ {
		if off >= len(b) {
			return 0, off, fmt.Errorf("truncated length prefix")
		}
		c := b[off]
		off++
		n |= int(c&0x7f) << shift
		if c&0x80 == 0 {
			return n, off, nil
		}
		shift += 7
	}
	return 0, off, fmt.Errorf("length prefix too long")
}
