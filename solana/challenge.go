package solstep_protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Challenge is the ledger-resident challenge account. Participants never
// contains the default address.
type Challenge struct {
	PublicKey        solana.PublicKey   `json:"publicKey"`
	Organizer        solana.PublicKey   `json:"organizer"`
	StakeAmount      uint64             `json:"stakeAmount"`
	StartTs          int64              `json:"startTs"`
	EndTs            int64              `json:"endTs"`
	MaxParticipants  uint32             `json:"maxParticipants"`
	ParticipantCount uint32             `json:"participantCount"`
	TotalStake       uint64             `json:"totalStake"`
	IsFinalized      bool               `json:"isFinalized"`
	Participants     []solana.PublicKey `json:"participants"`
}

// HasParticipant reports whether key holds a participant slot.
func (c *Challenge) HasParticipant(key solana.PublicKey) bool {
	for _, p := range c.Participants {
		if p.Equals(key) {
			return true
		}
	}
	return false
}

// ExpectedStake is participantCount × stakeAmount.
func (c *Challenge) ExpectedStake() uint64 {
	return uint64(c.ParticipantCount) * c.StakeAmount
}

// AddressKind tags the representation an address arrived in.
type AddressKind int

const (
	AddressKindObject AddressKind = iota
	AddressKindString
	AddressKindBytes
)

// AddressValue is an address in whatever shape the upstream layer produced:
// a typed key, a base58 string, or raw bytes. Normalize turns every shape
// into a solana.PublicKey.
type AddressValue struct {
	Kind   AddressKind
	Key    solana.PublicKey
	String string
	Raw    []byte
}

func AddressFromKey(key solana.PublicKey) AddressValue {
	return AddressValue{Kind: AddressKindObject, Key: key}
}

func AddressFromString(s string) AddressValue {
	return AddressValue{Kind: AddressKindString, String: s}
}

func AddressFromBytes(b []byte) AddressValue {
	return AddressValue{Kind: AddressKindBytes, Raw: b}
}

// Normalize returns the canonical key.
func (a AddressValue) Normalize() (solana.PublicKey, error) {
	switch a.Kind {
	case AddressKindObject:
		return a.Key, nil
	case AddressKindString:
		raw, err := base58.Decode(a.String)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid base58 address %q: %w", a.String, err)
		}
		return keyFromBytes(raw)
	case AddressKindBytes:
		return keyFromBytes(a.Raw)
	default:
		return solana.PublicKey{}, fmt.Errorf("unknown address kind %d", a.Kind)
	}
}

func keyFromBytes(raw []byte) (solana.PublicKey, error) {
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid address length: expected %d, got %d", solana.PublicKeyLength, len(raw))
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// UnmarshalJSON accepts "base58", [u8; 32], {"pubkey": "base58"} and null.
func (a *AddressValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AddressFromKey(solana.PublicKey{})
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AddressFromString(s)
	case '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		raw := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("address byte %d out of range: %d", i, v)
			}
			raw[i] = byte(v)
		}
		*a = AddressFromBytes(raw)
	case '{':
		var obj struct {
			Pubkey  string `json:"pubkey"`
			Address string `json:"address"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		s := obj.Pubkey
		if s == "" {
			s = obj.Address
		}
		key, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return fmt.Errorf("invalid address object: %w", err)
		}
		*a = AddressFromKey(key)
	default:
		return fmt.Errorf("unsupported address representation: %s", string(data))
	}
	return nil
}

// ParseAccount_Challenge decodes a Challenge account. Address fields are
// routed through AddressValue like every other representation.
func ParseAccount_Challenge(address solana.PublicKey, data []byte) (*Challenge, error) {
	dec := bin.NewBorshDecoder(data)

	disc, err := dec.ReadNBytes(8)
	if err != nil {
		return nil, fmt.Errorf("%w: read discriminator: %v", ErrDecodeFailure, err)
	}
	if !bytes.Equal(disc, Account_Challenge[:]) {
		return nil, fmt.Errorf("%w: unexpected discriminator %v", ErrDecodeFailure, disc)
	}

	c := &Challenge{PublicKey: address}

	organizerBytes, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, fmt.Errorf("%w: organizer: %v", ErrDecodeFailure, err)
	}
	if c.Organizer, err = AddressFromBytes(organizerBytes).Normalize(); err != nil {
		return nil, fmt.Errorf("%w: organizer: %v", ErrDecodeFailure, err)
	}
	if c.StakeAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: stake_amount: %v", ErrDecodeFailure, err)
	}
	if c.StartTs, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: start_ts: %v", ErrDecodeFailure, err)
	}
	if c.EndTs, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: end_ts: %v", ErrDecodeFailure, err)
	}
	if c.MaxParticipants, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: max_participants: %v", ErrDecodeFailure, err)
	}
	if c.ParticipantCount, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: participant_count: %v", ErrDecodeFailure, err)
	}
	if c.TotalStake, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("%w: total_stake: %v", ErrDecodeFailure, err)
	}
	if c.IsFinalized, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("%w: is_finalized: %v", ErrDecodeFailure, err)
	}

	slots, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("%w: participants length: %v", ErrDecodeFailure, err)
	}
	if int(slots) > dec.Remaining()/solana.PublicKeyLength {
		return nil, fmt.Errorf("%w: participants length %d exceeds account data", ErrDecodeFailure, slots)
	}
	raw := make([]AddressValue, 0, slots)
	for i := uint32(0); i < slots; i++ {
		b, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return nil, fmt.Errorf("%w: participant %d: %v", ErrDecodeFailure, i, err)
		}
		raw = append(raw, AddressFromBytes(b))
	}
	if c.Participants, err = normalizeParticipants(raw); err != nil {
		return nil, err
	}

	if c.ParticipantCount > c.MaxParticipants {
		return nil, fmt.Errorf("%w: participant_count %d exceeds max_participants %d", ErrDecodeFailure, c.ParticipantCount, c.MaxParticipants)
	}
	return c, nil
}

// normalizeParticipants drops default-address slots, which stand for unused capacity.
func normalizeParticipants(values []AddressValue) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(values))
	for i, v := range values {
		key, err := v.Normalize()
		if err != nil {
			return nil, fmt.Errorf("%w: participant %d: %v", ErrDecodeFailure, i, err)
		}
		if key.IsZero() {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// challengeDumpEntry is one element of a JSON account dump, shaped like the
// output of an Anchor client's account.all(): {publicKey, account: {...}}.
type challengeDumpEntry struct {
	PublicKey AddressValue               `json:"publicKey"`
	Account   map[string]json.RawMessage `json:"account"`
}

func (e *challengeDumpEntry) field(names ...string) (json.RawMessage, bool) {
	for _, n := range names {
		if v, ok := e.Account[n]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return v, true
		}
	}
	return nil, false
}

// parseDumpNumber accepts JSON numbers and decimal strings.
func parseDumpNumber(raw json.RawMessage, bits int, signed bool) (uint64, int64, error) {
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	if signed {
		v, err := strconv.ParseInt(s, 10, bits)
		return 0, v, err
	}
	v, err := strconv.ParseUint(s, 10, bits)
	return v, 0, err
}

func decodeChallengeDumpEntry(e *challengeDumpEntry) (*Challenge, error) {
	address, err := e.PublicKey.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: publicKey: %v", ErrDecodeFailure, err)
	}
	c := &Challenge{PublicKey: address}

	raw, ok := e.field("organizer")
	if !ok {
		return nil, fmt.Errorf("%w: organizer missing", ErrDecodeFailure)
	}
	var organizer AddressValue
	if err := json.Unmarshal(raw, &organizer); err != nil {
		return nil, fmt.Errorf("%w: organizer: %v", ErrDecodeFailure, err)
	}
	if c.Organizer, err = organizer.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: organizer: %v", ErrDecodeFailure, err)
	}

	unsigned := []struct {
		names []string
		bits  int
		set   func(uint64)
	}{
		{[]string{"stake_amount", "stakeAmount"}, 64, func(v uint64) { c.StakeAmount = v }},
		{[]string{"max_participants", "maxParticipants"}, 32, func(v uint64) { c.MaxParticipants = uint32(v) }},
		{[]string{"participant_count", "participantCount"}, 32, func(v uint64) { c.ParticipantCount = uint32(v) }},
		{[]string{"total_stake", "totalStake"}, 64, func(v uint64) { c.TotalStake = v }},
	}
	for _, f := range unsigned {
		raw, ok := e.field(f.names...)
		if !ok {
			continue
		}
		v, _, err := parseDumpNumber(raw, f.bits, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, f.names[0], err)
		}
		f.set(v)
	}
	signed := []struct {
		names []string
		set   func(int64)
	}{
		{[]string{"start_ts", "startTs"}, func(v int64) { c.StartTs = v }},
		{[]string{"end_ts", "endTs"}, func(v int64) { c.EndTs = v }},
	}
	for _, f := range signed {
		raw, ok := e.field(f.names...)
		if !ok {
			continue
		}
		_, v, err := parseDumpNumber(raw, 64, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeFailure, f.names[0], err)
		}
		f.set(v)
	}

	if raw, ok := e.field("is_finalized", "isFinalized"); ok {
		if err := json.Unmarshal(raw, &c.IsFinalized); err != nil {
			return nil, fmt.Errorf("%w: is_finalized: %v", ErrDecodeFailure, err)
		}
	}

	if raw, ok := e.field("participants"); ok {
		var values []AddressValue
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("%w: participants: %v", ErrDecodeFailure, err)
		}
		if c.Participants, err = normalizeParticipants(values); err != nil {
			return nil, err
		}
	} else {
		c.Participants = []solana.PublicKey{}
	}

	if c.ParticipantCount > c.MaxParticipants {
		return nil, fmt.Errorf("%w: participant_count %d exceeds max_participants %d", ErrDecodeFailure, c.ParticipantCount, c.MaxParticipants)
	}
	return c, nil
}
