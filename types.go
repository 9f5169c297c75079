package guardkit

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// AddressLength is the size of an account identifier in bytes.
	AddressLength = 20

	// SelectorLength is the size of an operation selector in bytes.
	SelectorLength = 4

	// WordLength is the size of one encoded payload argument.
	WordLength = 32
)

// Address is an opaque account or contract identifier.
// The zero value is the "no account" sentinel and is rejected by every role operation.
type Address [AddressLength]byte

// BytesToAddress converts b to an Address. If b is longer than an address,
// the leading bytes are cropped; shorter inputs are left-padded.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress parses a hex string (with or without 0x prefix) into an Address.
func HexToAddress(s string) (Address, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return Address{}, err
	}
	if len(raw) != AddressLength {
		return Address{}, fmt.Errorf("%w: address must be %d bytes, got %d", ErrInvalidAccount, AddressLength, len(raw))
	}
	return BytesToAddress(raw), nil
}

// IsZero reports whether a is the zero sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex returns the 0x-prefixed hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// RoleID is an opaque 32-byte role tag.
type RoleID [32]byte

// DefaultAdminRole is the reserved zero identifier. It administers every role
// that has no explicit admin, including itself.
var DefaultAdminRole = RoleID{}

var (
	// EmergencyRole gates the emergency timelock and controller operations.
	EmergencyRole = RoleFromName("EMERGENCY_ROLE")

	// PauserRole may toggle the local pause flag of a protected component.
	PauserRole = RoleFromName("PAUSER_ROLE")
)

// RoleFromName derives a role tag from a human readable name.
func RoleFromName(name string) RoleID {
	var r RoleID
	copy(r[:], Keccak256([]byte(name)))
	return r
}

// HexToRoleID parses a 32-byte hex string.
func HexToRoleID(s string) (RoleID, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return RoleID{}, err
	}
	if len(raw) != len(RoleID{}) {
		return RoleID{}, fmt.Errorf("role id must be 32 bytes, got %d", len(raw))
	}
	var r RoleID
	copy(r[:], raw)
	return r, nil
}

// IsDefaultAdmin reports whether r is the reserved default admin role.
func (r RoleID) IsDefaultAdmin() bool {
	return r == DefaultAdminRole
}

// Hex returns the 0x-prefixed hex form.
func (r RoleID) Hex() string {
	return "0x" + hex.EncodeToString(r[:])
}

func (r RoleID) String() string {
	return r.Hex()
}

// ActionID identifies an emergency action proposal.
type ActionID [32]byte

// IsZero reports whether id is unset.
func (id ActionID) IsZero() bool {
	return id == ActionID{}
}

func (id ActionID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id ActionID) String() string {
	return id.Hex()
}

// HexToActionID parses a 32-byte hex string.
func HexToActionID(s string) (ActionID, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return ActionID{}, err
	}
	if len(raw) != len(ActionID{}) {
		return ActionID{}, fmt.Errorf("action id must be 32 bytes, got %d", len(raw))
	}
	var id ActionID
	copy(id[:], raw)
	return id, nil
}

// Selector is the 4-byte operation tag at the head of a call payload.
type Selector [SelectorLength]byte

// SelectorFromSignature returns the first four bytes of the Keccak-256 of sig,
// e.g. SelectorFromSignature("pause()").
func SelectorFromSignature(sig string) Selector {
	var s Selector
	copy(s[:], Keccak256([]byte(sig)))
	return s
}

// HexToSelector parses a 4-byte hex string.
func HexToSelector(s string) (Selector, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return Selector{}, err
	}
	if len(raw) != SelectorLength {
		return Selector{}, fmt.Errorf("%w: selector must be %d bytes, got %d", ErrInvalidAmount, SelectorLength, len(raw))
	}
	var sel Selector
	copy(sel[:], raw)
	return sel, nil
}

// ExtractSelector reads the selector from the head of payload.
func ExtractSelector(payload []byte) (Selector, error) {
	var s Selector
	if len(payload) < SelectorLength {
		return s, NewError(ErrInvalidPayload, fmt.Sprintf("payload is %d bytes, need at least %d", len(payload), SelectorLength))
	}
	copy(s[:], payload[:SelectorLength])
	return s, nil
}

func (s Selector) IsZero() bool {
	return s == Selector{}
}

func (s Selector) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Selector) String() string {
	return s.Hex()
}

// Level is the system-wide emergency severity.
type Level uint8

const (
	LevelNormal Level = iota
	LevelCaution
	LevelAlert
	LevelCritical
)

// Valid reports whether l is within Normal..Critical.
func (l Level) Valid() bool {
	return l <= LevelCritical
}

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelCaution:
		return "caution"
	case LevelAlert:
		return "alert"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Word is one 32-byte payload argument.
type Word [WordLength]byte

// Uint64Word encodes v right-aligned.
func Uint64Word(v uint64) Word {
	var w Word
	binary.BigEndian.PutUint64(w[WordLength-8:], v)
	return w
}

// BoolWord encodes b as 0 or 1.
func BoolWord(b bool) Word {
	if b {
		return Uint64Word(1)
	}
	return Word{}
}

// AddressWord encodes a right-aligned.
func AddressWord(a Address) Word {
	var w Word
	copy(w[WordLength-AddressLength:], a[:])
	return w
}

// SelectorWord encodes s left-aligned, the way fixed-size byte arrays are packed.
func SelectorWord(s Selector) Word {
	var w Word
	copy(w[:SelectorLength], s[:])
	return w
}

// RoleWord encodes a role id; role ids fill a whole word.
func RoleWord(r RoleID) Word {
	return Word(r)
}

// RoleID decodes w as a role id.
func (w Word) RoleID() RoleID {
	return RoleID(w)
}

// Uint64 decodes w as an unsigned integer. Values that do not fit in 64 bits
// fail with ErrInvalidPayload instead of being truncated.
func (w Word) Uint64() (uint64, error) {
	if err := w.requireZero(0, WordLength-8, "uint64"); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(w[WordLength-8:]), nil
}

// Bool decodes w as a boolean. Only 0 and 1 are accepted.
func (w Word) Bool() (bool, error) {
	if err := w.requireZero(0, WordLength-1, "bool"); err != nil {
		return false, err
	}
	switch w[WordLength-1] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, NewError(ErrInvalidPayload, fmt.Sprintf("bool word holds %d", w[WordLength-1]))
}

// Address decodes the low 20 bytes of w; the high 12 bytes must be zero.
func (w Word) Address() (Address, error) {
	if err := w.requireZero(0, WordLength-AddressLength, "address"); err != nil {
		return Address{}, err
	}
	return BytesToAddress(w[WordLength-AddressLength:]), nil
}

// Selector decodes the high 4 bytes of w; the rest must be zero.
func (w Word) Selector() (Selector, error) {
	if err := w.requireZero(SelectorLength, WordLength, "bytes4"); err != nil {
		return Selector{}, err
	}
	var s Selector
	copy(s[:], w[:SelectorLength])
	return s, nil
}

// requireZero checks that w[from:to] is padding.
func (w Word) requireZero(from, to int, kind string) error {
	for _, b := range w[from:to] {
		if b != 0 {
			return NewError(ErrInvalidPayload, kind+" word has non-zero padding")
		}
	}
	return nil
}

// NewPayload builds a call payload: the selector of signature followed by words.
func NewPayload(signature string, words ...Word) []byte {
	sel := SelectorFromSignature(signature)
	out := make([]byte, 0, SelectorLength+len(words)*WordLength)
	out = append(out, sel[:]...)
	for _, w := range words {
		out = append(out, w[:]...)
	}
	return out
}

// PayloadWord returns argument i of payload.
func PayloadWord(payload []byte, i int) (Word, error) {
	var w Word
	start := SelectorLength + i*WordLength
	if i < 0 || len(payload) < start+WordLength {
		return w, NewError(ErrInvalidPayload, fmt.Sprintf("payload has no argument %d", i))
	}
	copy(w[:], payload[start:start+WordLength])
	return w, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex %q: %w", s, err)
	}
	return raw, nil
}

// MarshalText encodes a as hex, so JSON shows addresses readably.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := HexToAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (r RoleID) MarshalText() ([]byte, error) {
	return []byte(r.Hex()), nil
}

func (r *RoleID) UnmarshalText(text []byte) error {
	v, err := HexToRoleID(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (id ActionID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ActionID) UnmarshalText(text []byte) error {
	v, err := HexToActionID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	v, err := HexToSelector(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
