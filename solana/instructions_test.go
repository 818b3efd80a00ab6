package solstep_protocol_test

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	solstep "solstep-cli/solana"
	"solstep-cli/solana/ledgertest"
)

type builtInstruction struct {
	name string
	ix   *solana.GenericInstruction
}

func buildAll(t *testing.T, p *solstep.Program, organizer, participant solana.PublicKey) []builtInstruction {
	t.Helper()
	challenge := p.ChallengeAddress(organizer)

	create, err := p.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{
		Organizer:       organizer,
		Title:           "Old Town Loop",
		StakeAmount:     100,
		StartTs:         1_700_000_000,
		EndTs:           1_700_086_400,
		MaxParticipants: 4,
	})
	require.NoError(t, err)
	join, err := p.NewJoinChallengeInstruction(participant, challenge)
	require.NoError(t, err)
	initEscrow, err := p.NewInitEscrowInstruction(organizer, challenge)
	require.NoError(t, err)
	finalize, err := p.NewFinalizeChallengeInstruction(organizer, challenge)
	require.NoError(t, err)
	settle, err := p.NewSettleChallengeInstruction(organizer, participant, solana.NewWallet().PublicKey(), challenge)
	require.NoError(t, err)
	timeout, err := p.NewTimeoutChallengeInstruction(participant, challenge, organizer)
	require.NoError(t, err)
	closeIx, err := p.NewCloseChallengeInstruction(organizer, challenge)
	require.NoError(t, err)

	return []builtInstruction{
		{"create_challenge", create},
		{"join_challenge", join},
		{"init_escrow", initEscrow},
		{"finalize_challenge", finalize},
		{"settle_challenge", settle},
		{"timeout_challenge", timeout},
		{"close_challenge", closeIx},
	}
}

func TestSolstep_Instructions_RoundTrip(t *testing.T) {
	t.Parallel()

	organizer := solana.NewWallet().PublicKey()
	participant := solana.NewWallet().PublicKey()

	for _, b := range buildAll(t, solstep.DefaultProgram, organizer, participant) {
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, solstep.ProgramID, b.ix.ProgramID())

			data, err := b.ix.Data()
			require.NoError(t, err)
			decoded, err := ledgertest.DecodeInstruction(data)
			require.NoError(t, err)
			require.Equal(t, b.name, decoded.Name)
			require.Equal(t, b.name, solstep.InstructionName(data))
		})
	}
}

func TestSolstep_Instructions_CreateChallengePayload(t *testing.T) {
	t.Parallel()

	organizer := solana.NewWallet().PublicKey()

	t.Run("fields round trip", func(t *testing.T) {
		t.Parallel()
		args := solstep.CreateChallengeArgs{
			Organizer:       organizer,
			Title:           "Parks & Plazas ✓",
			StakeAmount:     1<<63 + 5,
			StartTs:         -42,
			EndTs:           1_900_000_000,
			MaxParticipants: 1<<32 - 1,
		}
		ix, err := solstep.DefaultProgram.NewCreateChallengeInstruction(args)
		require.NoError(t, err)
		data, err := ix.Data()
		require.NoError(t, err)

		decoded, err := ledgertest.DecodeInstruction(data)
		require.NoError(t, err)
		require.Equal(t, args.Title, decoded.Title)
		require.Equal(t, args.StakeAmount, decoded.StakeAmount)
		require.Equal(t, args.StartTs, decoded.StartTs)
		require.Equal(t, args.EndTs, decoded.EndTs)
		require.Equal(t, args.MaxParticipants, decoded.MaxParticipants)
	})

	t.Run("exact bytes", func(t *testing.T) {
		t.Parallel()
		ix, err := solstep.DefaultProgram.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{
			Organizer:       organizer,
			Title:           "ab",
			StakeAmount:     1,
			StartTs:         -1,
			EndTs:           2,
			MaxParticipants: 3,
		})
		require.NoError(t, err)
		data, err := ix.Data()
		require.NoError(t, err)

		want := []byte{170, 244, 47, 1, 1, 15, 173, 239}
		want = append(want, 2, 0, 0, 0, 'a', 'b')
		want = append(want, 1, 0, 0, 0, 0, 0, 0, 0)
		want = append(want, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		want = append(want, 2, 0, 0, 0, 0, 0, 0, 0)
		want = append(want, 3, 0, 0, 0)
		require.Equal(t, want, data)
	})

	t.Run("long title keeps a 4-byte prefix", func(t *testing.T) {
		t.Parallel()
		title := strings.Repeat("x", 300)
		ix, err := solstep.DefaultProgram.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{
			Organizer: organizer, Title: title, EndTs: 1, MaxParticipants: 1,
		})
		require.NoError(t, err)
		data, err := ix.Data()
		require.NoError(t, err)
		require.Equal(t, []byte{44, 1, 0, 0}, data[8:12])
		require.Len(t, data, 8+4+300+8+8+8+4)
	})

	t.Run("missing fields", func(t *testing.T) {
		t.Parallel()
		_, err := solstep.DefaultProgram.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{Title: "x"})
		require.ErrorIs(t, err, solstep.ErrInvalidArgument)
		_, err = solstep.DefaultProgram.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{Organizer: organizer})
		require.ErrorIs(t, err, solstep.ErrInvalidArgument)
	})
}

func TestSolstep_Instructions_AccountOrdering(t *testing.T) {
	t.Parallel()

	p := solstep.DefaultProgram
	organizer := solana.NewWallet().PublicKey()
	participant := solana.NewWallet().PublicKey()
	challenge := p.ChallengeAddress(organizer)
	escrow := p.EscrowAddress(challenge)

	type meta struct {
		key      solana.PublicKey
		signer   bool
		writable bool
	}
	metas := func(ix *solana.GenericInstruction) []meta {
		var out []meta
		for _, m := range ix.Accounts() {
			out = append(out, meta{m.PublicKey, m.IsSigner, m.IsWritable})
		}
		return out
	}

	t.Run("join", func(t *testing.T) {
		t.Parallel()
		ix, err := p.NewJoinChallengeInstruction(participant, challenge)
		require.NoError(t, err)
		require.Equal(t, []meta{
			{participant, true, true},
			{challenge, false, true},
			{escrow, false, true},
			{solana.SystemProgramID, false, false},
		}, metas(ix))
	})

	t.Run("settle", func(t *testing.T) {
		t.Parallel()
		loser := solana.NewWallet().PublicKey()
		ix, err := p.NewSettleChallengeInstruction(organizer, participant, loser, challenge)
		require.NoError(t, err)
		require.Equal(t, []meta{
			{organizer, true, true},
			{participant, false, true},
			{loser, false, true},
			{challenge, false, true},
			{escrow, false, true},
			{solana.SystemProgramID, false, false},
		}, metas(ix))
	})

	t.Run("timeout caller is a read-only signer", func(t *testing.T) {
		t.Parallel()
		ix, err := p.NewTimeoutChallengeInstruction(participant, challenge, organizer)
		require.NoError(t, err)
		require.Equal(t, []meta{
			{participant, true, false},
			{challenge, false, true},
			{escrow, false, true},
			{organizer, false, true},
			{solana.SystemProgramID, false, false},
		}, metas(ix))
	})

	t.Run("create", func(t *testing.T) {
		t.Parallel()
		ix, err := p.NewCreateChallengeInstruction(solstep.CreateChallengeArgs{Organizer: organizer, Title: "t"})
		require.NoError(t, err)
		require.Equal(t, []meta{
			{organizer, true, true},
			{p.OrganizerStatsAddress(organizer), false, true},
			{challenge, false, true},
			{solana.SystemProgramID, false, false},
		}, metas(ix))
	})

	t.Run("zero address rejected", func(t *testing.T) {
		t.Parallel()
		_, err := p.NewSettleChallengeInstruction(organizer, participant, solana.PublicKey{}, challenge)
		require.ErrorIs(t, err, solstep.ErrInvalidArgument)
	})
}

// The embedded IDL and the encoder describe the same contract.
func TestSolstep_Instructions_MatchIDL(t *testing.T) {
	t.Parallel()

	idl, err := solstep.LoadIDL()
	require.NoError(t, err)
	require.Equal(t, solstep.ProgramID.String(), idl.Address)

	byName := make(map[string]solstep.IDLInstruction)
	for _, ix := range idl.Instructions {
		byName[ix.Name] = ix
	}
	require.Len(t, byName, 7)

	organizer := solana.NewWallet().PublicKey()
	participant := solana.NewWallet().PublicKey()
	for _, b := range buildAll(t, solstep.DefaultProgram, organizer, participant) {
		def, ok := byName[b.name]
		require.True(t, ok, b.name)

		data, err := b.ix.Data()
		require.NoError(t, err)
		require.Equal(t, def.Discriminator, data[:8], b.name)

		accounts := b.ix.Accounts()
		require.Len(t, accounts, len(def.Accounts), b.name)
		for i, acc := range def.Accounts {
			require.Equal(t, acc.IsSigner, accounts[i].IsSigner, "%s account %s", b.name, acc.Name)
			require.Equal(t, acc.IsMut, accounts[i].IsWritable, "%s account %s", b.name, acc.Name)
		}
	}

	require.Len(t, idl.Accounts, 1)
	require.Equal(t, solstep.Account_Challenge[:], idl.Accounts[0].Discriminator)
}
