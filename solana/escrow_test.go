package solstep_protocol_test

import (
	"context"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	solstep "solstep-cli/solana"
	"solstep-cli/solana/ledgertest"
	solsteptesting "solstep-cli/utils/testing"
)

func TestSolstep_Escrow_Audit(t *testing.T) {
	t.Parallel()

	c := sampleChallenge(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())

	cases := []struct {
		name    string
		balance uint64
		delta   int64
	}{
		{"exact", 200, 0},
		{"reserve on top", 200 + ledgertest.RentReserve, int64(ledgertest.RentReserve)},
		{"short", 50, -150},
		{"empty", 0, -200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			report := solstep.Audit(c, tc.balance)
			require.Equal(t, uint64(200), report.Expected)
			require.Equal(t, tc.balance, report.Actual)
			require.Equal(t, tc.delta, report.Delta)
		})
	}

	t.Run("extreme values clamp", func(t *testing.T) {
		t.Parallel()
		big := &solstep.Challenge{StakeAmount: math.MaxUint64, ParticipantCount: 1}
		require.Equal(t, int64(math.MinInt64), solstep.Audit(big, 0).Delta)
		require.Equal(t, int64(math.MaxInt64), solstep.Audit(&solstep.Challenge{}, math.MaxUint64).Delta)
	})
}

func TestSolstep_Escrow_AuditAll(t *testing.T) {
	t.Parallel()

	ledger := ledgertest.New(solstep.DefaultProgram, nil)
	auditor, err := solstep.NewAuditor(solstep.AuditorConfig{
		Logger:            solsteptesting.NewLogger(),
		RPC:               ledger,
		Program:           solstep.DefaultProgram,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)

	var challenges []*solstep.Challenge
	for i := 0; i < 6; i++ {
		c := sampleChallenge(solana.NewWallet().PublicKey())
		ledger.Fund(solstep.DefaultProgram.EscrowAddress(c.PublicKey), uint64(i)*10)
		challenges = append(challenges, c)
	}

	reports, err := auditor.AuditAll(context.Background(), challenges)
	require.NoError(t, err)
	require.Len(t, reports, len(challenges))
	for i, r := range reports {
		require.Equal(t, challenges[i].PublicKey, r.Challenge)
		require.Equal(t, solstep.DefaultProgram.EscrowAddress(challenges[i].PublicKey), r.Escrow)
		require.Equal(t, uint64(i)*10, r.Actual)
		require.Equal(t, int64(i)*10-100, r.Delta)
		require.Equal(t, ledgertest.RentReserve, r.Reserve)
	}
}
