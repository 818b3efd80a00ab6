package solstep_protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// CreateChallengeArgs are the create_challenge arguments, in wire order.
type CreateChallengeArgs struct {
	Organizer       solana.PublicKey
	Title           string
	StakeAmount     uint64
	StartTs         int64
	EndTs           int64
	MaxParticipants uint32
}

// instructionData writes the discriminator followed by whatever the optional
// write func appends, using Borsh conventions.
func instructionData(disc [8]byte, write func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if write != nil {
		if err := write(enc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// writeString writes a u32 little-endian length prefix and the UTF-8 bytes.
func writeString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes([]byte(s), false)
}

func requireAddresses(named map[string]solana.PublicKey) error {
	for name, key := range named {
		if key.IsZero() {
			return fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
		}
	}
	return nil
}

// NewCreateChallengeInstruction builds create_challenge.
func (p *Program) NewCreateChallengeInstruction(args CreateChallengeArgs) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{"organizer": args.Organizer}); err != nil {
		return nil, err
	}
	if args.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	organizerStatsPDA, _, err := p.GetOrganizerStatsPDA(args.Organizer)
	if err != nil {
		return nil, fmt.Errorf("failed to get organizer stats PDA: %w", err)
	}
	challengePDA, _, err := p.GetChallengePDA(args.Organizer)
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge PDA: %w", err)
	}

	data, err := instructionData(Instruction_CreateChallenge, func(enc *bin.Encoder) error {
		if err := writeString(enc, args.Title); err != nil {
			return err
		}
		if err := enc.WriteUint64(args.StakeAmount, binary.LittleEndian); err != nil {
			return err
		}
		if err := enc.WriteInt64(args.StartTs, binary.LittleEndian); err != nil {
			return err
		}
		if err := enc.WriteInt64(args.EndTs, binary.LittleEndian); err != nil {
			return err
		}
		return enc.WriteUint32(args.MaxParticipants, binary.LittleEndian)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode create_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(args.Organizer, true, true),
			solana.NewAccountMeta(organizerStatsPDA, true, false),
			solana.NewAccountMeta(challengePDA, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	), nil
}

// NewJoinChallengeInstruction builds join_challenge. The participant's stake
// moves into the challenge escrow.
func (p *Program) NewJoinChallengeInstruction(participant, challenge solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{"participant": participant, "challenge": challenge}); err != nil {
		return nil, err
	}
	escrowPDA, _, err := p.GetEscrowPDA(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow PDA: %w", err)
	}
	data, err := instructionData(Instruction_JoinChallenge, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode join_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(participant, true, true),
			solana.NewAccountMeta(challenge, true, false),
			solana.NewAccountMeta(escrowPDA, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	), nil
}

// NewInitEscrowInstruction builds init_escrow.
func (p *Program) NewInitEscrowInstruction(organizer, challenge solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{"organizer": organizer, "challenge": challenge}); err != nil {
		return nil, err
	}
	escrowPDA, _, err := p.GetEscrowPDA(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow PDA: %w", err)
	}
	data, err := instructionData(Instruction_InitEscrow, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode init_escrow: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(organizer, true, true),
			solana.NewAccountMeta(challenge, true, false),
			solana.NewAccountMeta(escrowPDA, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	), nil
}

// NewFinalizeChallengeInstruction builds finalize_challenge.
func (p *Program) NewFinalizeChallengeInstruction(organizer, challenge solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{"organizer": organizer, "challenge": challenge}); err != nil {
		return nil, err
	}
	data, err := instructionData(Instruction_FinalizeChallenge, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode finalize_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(organizer, true, true),
			solana.NewAccountMeta(challenge, true, false),
		},
		data,
	), nil
}

// NewSettleChallengeInstruction builds settle_challenge. The program only
// accepts one winner and one loser.
func (p *Program) NewSettleChallengeInstruction(organizer, winner, loser, challenge solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{
		"organizer": organizer,
		"winner":    winner,
		"loser":     loser,
		"challenge": challenge,
	}); err != nil {
		return nil, err
	}
	escrowPDA, _, err := p.GetEscrowPDA(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow PDA: %w", err)
	}
	data, err := instructionData(Instruction_SettleChallenge, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settle_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(organizer, true, true),
			solana.NewAccountMeta(winner, true, false),
			solana.NewAccountMeta(loser, true, false),
			solana.NewAccountMeta(challenge, true, false),
			solana.NewAccountMeta(escrowPDA, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	), nil
}

// NewTimeoutChallengeInstruction builds timeout_challenge. Any caller may
// sign; the caller account is read-only.
func (p *Program) NewTimeoutChallengeInstruction(caller, challenge, organizer solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{
		"caller":    caller,
		"challenge": challenge,
		"organizer": organizer,
	}); err != nil {
		return nil, err
	}
	escrowPDA, _, err := p.GetEscrowPDA(challenge)
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow PDA: %w", err)
	}
	data, err := instructionData(Instruction_TimeoutChallenge, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode timeout_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(caller, false, true),
			solana.NewAccountMeta(challenge, true, false),
			solana.NewAccountMeta(escrowPDA, true, false),
			solana.NewAccountMeta(organizer, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		data,
	), nil
}

// NewCloseChallengeInstruction builds close_challenge.
func (p *Program) NewCloseChallengeInstruction(organizer, challenge solana.PublicKey) (*solana.GenericInstruction, error) {
	if err := requireAddresses(map[string]solana.PublicKey{"organizer": organizer, "challenge": challenge}); err != nil {
		return nil, err
	}
	data, err := instructionData(Instruction_CloseChallenge, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode close_challenge: %w", err)
	}

	return solana.NewInstruction(
		p.ID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(organizer, true, true),
			solana.NewAccountMeta(challenge, true, false),
		},
		data,
	), nil
}
