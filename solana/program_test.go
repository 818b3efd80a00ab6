package solstep_protocol

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestSolstep_Program_AccountDiscriminator(t *testing.T) {
	t.Parallel()

	require.Equal(t, [8]byte{119, 250, 161, 121, 119, 81, 22, 208}, Account_Challenge)
	require.NotEqual(t, Account_Challenge, AccountDiscriminator("OrganizerStats"))
}

func TestSolstep_Program_NewProgram(t *testing.T) {
	t.Parallel()

	_, err := NewProgram(solana.PublicKey{})
	require.ErrorIs(t, err, ErrProgramUninitialized)

	p, err := NewProgram(ProgramID)
	require.NoError(t, err)
	require.Equal(t, ProgramID, p.ID)
}

func TestSolstep_Program_Derive(t *testing.T) {
	t.Parallel()

	organizer := solana.NewWallet().PublicKey()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a1, b1, err := DefaultProgram.GetChallengePDA(organizer)
		require.NoError(t, err)
		a2, b2, err := DefaultProgram.GetChallengePDA(organizer)
		require.NoError(t, err)
		require.Equal(t, a1, a2)
		require.Equal(t, b1, b2)
		require.Equal(t, a1, DefaultProgram.ChallengeAddress(organizer))
	})

	t.Run("matches FindProgramAddress", func(t *testing.T) {
		t.Parallel()
		challenge := DefaultProgram.ChallengeAddress(organizer)
		want, bump, err := solana.FindProgramAddress([][]byte{[]byte("escrow"), challenge.Bytes()}, ProgramID)
		require.NoError(t, err)
		got, gotBump, err := DefaultProgram.GetEscrowPDA(challenge)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, bump, gotBump)
	})

	t.Run("seeds produce distinct addresses", func(t *testing.T) {
		t.Parallel()
		challenge := DefaultProgram.ChallengeAddress(organizer)
		stats := DefaultProgram.OrganizerStatsAddress(organizer)
		escrow := DefaultProgram.EscrowAddress(challenge)
		require.NotEqual(t, challenge, stats)
		require.NotEqual(t, challenge, escrow)
		require.NotEqual(t, stats, escrow)
	})

	t.Run("program id scopes derivation", func(t *testing.T) {
		t.Parallel()
		other, err := NewProgram(solana.NewWallet().PublicKey())
		require.NoError(t, err)
		require.NotEqual(t, DefaultProgram.ChallengeAddress(organizer), other.ChallengeAddress(organizer))
	})
}

func TestSolstep_Program_InstructionName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "settle_challenge", InstructionName(Instruction_SettleChallenge[:]))
	require.Equal(t, "unknown", InstructionName([]byte{1, 2, 3}))
	require.Equal(t, "unknown", InstructionName(make([]byte, 8)))
}
