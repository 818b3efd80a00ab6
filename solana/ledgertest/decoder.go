package ledgertest

import (
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	solstep "solstep-cli/solana"
)

// DecodedInstruction is what the program sees after decoding a payload.
type DecodedInstruction struct {
	Name string
	// Set for create_challenge only.
	Title           string
	StakeAmount     uint64
	StartTs         int64
	EndTs           int64
	MaxParticipants uint32
}

var discriminators = map[[8]byte]string{
	solstep.Instruction_CreateChallenge:   "create_challenge",
	solstep.Instruction_JoinChallenge:     "join_challenge",
	solstep.Instruction_InitEscrow:        "init_escrow",
	solstep.Instruction_FinalizeChallenge: "finalize_challenge",
	solstep.Instruction_SettleChallenge:   "settle_challenge",
	solstep.Instruction_TimeoutChallenge:  "timeout_challenge",
	solstep.Instruction_CloseChallenge:    "close_challenge",
}

// DecodeInstruction decodes a payload the way the program does. Trailing bytes
// are an error.
func DecodeInstruction(data []byte) (*DecodedInstruction, error) {
	dec := bin.NewBorshDecoder(data)
	raw, err := dec.ReadNBytes(8)
	if err != nil {
		return nil, fmt.Errorf("read discriminator: %w", err)
	}
	var disc [8]byte
	copy(disc[:], raw)
	name, ok := discriminators[disc]
	if !ok {
		return nil, fmt.Errorf("unknown discriminator %v", disc)
	}
	out := &DecodedInstruction{Name: name}

	if name == "create_challenge" {
		n, err := dec.ReadUint32(binary.LittleEndian)
		if err != nil {
			return nil, fmt.Errorf("title length: %w", err)
		}
		title, err := dec.ReadNBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("title: %w", err)
		}
		out.Title = string(title)
		if out.StakeAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("stake_amount: %w", err)
		}
		if out.StartTs, err = dec.ReadInt64(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("start_ts: %w", err)
		}
		if out.EndTs, err = dec.ReadInt64(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("end_ts: %w", err)
		}
		if out.MaxParticipants, err = dec.ReadUint32(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("max_participants: %w", err)
		}
	}

	if dec.Remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %s", dec.Remaining(), name)
	}
	return out, nil
}

// EncodeChallengeAccount serializes a challenge in the program's account
// layout. Participant slots are padded with default addresses up to
// MaxParticipants, followed by a bump byte.
func EncodeChallengeAccount(c *solstep.Challenge, bump uint8) []byte {
	buf := make([]byte, 0, 8+32+8+8+8+4+4+8+1+4+32*int(c.MaxParticipants)+1)
	buf = append(buf, solstep.Account_Challenge[:]...)
	buf = append(buf, c.Organizer.Bytes()...)
	buf = binary.LittleEndian.AppendUint64(buf, c.StakeAmount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.StartTs))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(c.EndTs))
	buf = binary.LittleEndian.AppendUint32(buf, c.MaxParticipants)
	buf = binary.LittleEndian.AppendUint32(buf, c.ParticipantCount)
	buf = binary.LittleEndian.AppendUint64(buf, c.TotalStake)
	if c.IsFinalized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	slots := int(c.MaxParticipants)
	if len(c.Participants) > slots {
		slots = len(c.Participants)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(slots))
	for i := 0; i < slots; i++ {
		if i < len(c.Participants) {
			buf = append(buf, c.Participants[i].Bytes()...)
		} else {
			buf = append(buf, solana.PublicKey{}.Bytes()...)
		}
	}
	return append(buf, bump)
}
