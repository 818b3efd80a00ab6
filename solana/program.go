package solstep_protocol

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the deployed SolStep challenge program on devnet.
var ProgramID = solana.MustPublicKeyFromBase58("3aezMEt3EwNGU7uxBSNNwmXN5b54WXzmyosXpXSdma52")

// PDA seed prefixes.
const (
	ChallengeSeed      = "challenge"
	EscrowSeed         = "escrow"
	OrganizerStatsSeed = "organizer_stats"
)

// Instruction discriminators, as assigned by the program IDL.
var (
	Instruction_CreateChallenge   = [8]byte{170, 244, 47, 1, 1, 15, 173, 239}
	Instruction_JoinChallenge     = [8]byte{41, 104, 214, 73, 32, 168, 76, 79}
	Instruction_InitEscrow        = [8]byte{70, 46, 40, 23, 6, 11, 81, 139}
	Instruction_FinalizeChallenge = [8]byte{184, 38, 132, 51, 103, 143, 203, 9}
	Instruction_SettleChallenge   = [8]byte{242, 58, 232, 150, 127, 199, 11, 204}
	Instruction_TimeoutChallenge  = [8]byte{15, 101, 245, 99, 220, 185, 252, 152}
	Instruction_CloseChallenge    = [8]byte{29, 156, 109, 17, 41, 99, 71, 236}
)

// Account_Challenge prefixes every Challenge account.
var Account_Challenge = AccountDiscriminator("Challenge")

// AccountDiscriminator returns the Anchor account discriminator for the named account type.
func AccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

// Program derives addresses owned by a specific program id. Derivations are
// pure: the same seeds always produce the same address and bump.
type Program struct {
	ID solana.PublicKey
}

// NewProgram returns a Program for the given program id. A zero id means the
// program was never configured.
func NewProgram(id solana.PublicKey) (*Program, error) {
	if id.IsZero() {
		return nil, ErrProgramUninitialized
	}
	return &Program{ID: id}, nil
}

// DefaultProgram is the Program for ProgramID.
var DefaultProgram = &Program{ID: ProgramID}

// Derive finds the program address and bump for seeds. Running out of bump
// seeds is a configuration error the caller cannot recover from.
func (p *Program) Derive(seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, p.ID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %v", ErrAddressExhausted, err)
	}
	return addr, bump, nil
}

func (p *Program) mustDerive(seeds ...[]byte) solana.PublicKey {
	addr, _, err := p.Derive(seeds...)
	if err != nil {
		panic(err)
	}
	return addr
}

// GetChallengePDA returns the challenge address for an organizer.
func (p *Program) GetChallengePDA(organizer solana.PublicKey) (solana.PublicKey, uint8, error) {
	return p.Derive([]byte(ChallengeSeed), organizer.Bytes())
}

// GetEscrowPDA returns the escrow address for a challenge.
func (p *Program) GetEscrowPDA(challenge solana.PublicKey) (solana.PublicKey, uint8, error) {
	return p.Derive([]byte(EscrowSeed), challenge.Bytes())
}

// GetOrganizerStatsPDA returns the organizer stats address.
func (p *Program) GetOrganizerStatsPDA(organizer solana.PublicKey) (solana.PublicKey, uint8, error) {
	return p.Derive([]byte(OrganizerStatsSeed), organizer.Bytes())
}

// ChallengeAddress is GetChallengePDA for callers that treat exhaustion as fatal.
func (p *Program) ChallengeAddress(organizer solana.PublicKey) solana.PublicKey {
	return p.mustDerive([]byte(ChallengeSeed), organizer.Bytes())
}

// EscrowAddress is GetEscrowPDA for callers that treat exhaustion as fatal.
func (p *Program) EscrowAddress(challenge solana.PublicKey) solana.PublicKey {
	return p.mustDerive([]byte(EscrowSeed), challenge.Bytes())
}

// OrganizerStatsAddress is GetOrganizerStatsPDA for callers that treat exhaustion as fatal.
func (p *Program) OrganizerStatsAddress(organizer solana.PublicKey) solana.PublicKey {
	return p.mustDerive([]byte(OrganizerStatsSeed), organizer.Bytes())
}
