package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	solstep "solstep-cli/solana"
)

func TestSolstep_Cmd_DeriveWSURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"https://api.devnet.solana.com", "wss://api.devnet.solana.com"},
		{"https://devnet.helius-rpc.com/?api-key=abc", "wss://devnet.helius-rpc.com/?api-key=abc"},
		{"http://127.0.0.1:8899", "ws://127.0.0.1:8900"},
		{"http://localhost:9000/rpc", "ws://localhost:9000/rpc"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := deriveWSURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := deriveWSURL("ftp://example.com")
	require.Error(t, err)
}

func TestSolstep_Cmd_LoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("SOLSTEP_RPC_URL", "")
		t.Setenv("SOLSTEP_WS_URL", "")
		t.Setenv("HELIUS_API_KEY", "")
		t.Setenv("SOLSTEP_PROGRAM_ID", "")
		t.Setenv("SOLSTEP_VERBOSE", "")
		t.Setenv("SOLSTEP_WALLET", "/tmp/w.json")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, defaultRPCURL, cfg.RPCURL)
		require.Equal(t, solstep.ProgramID, cfg.ProgramID)
		require.Equal(t, "/tmp/w.json", cfg.WalletPath)
		require.False(t, cfg.Verbose)

		ws, err := cfg.WebsocketURL()
		require.NoError(t, err)
		require.Equal(t, "wss://api.devnet.solana.com", ws)
	})

	t.Run("helius key", func(t *testing.T) {
		t.Setenv("SOLSTEP_RPC_URL", "")
		t.Setenv("HELIUS_API_KEY", "k1")
		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, "https://devnet.helius-rpc.com/?api-key=k1", cfg.RPCURL)
	})

	t.Run("explicit values", func(t *testing.T) {
		t.Setenv("SOLSTEP_RPC_URL", "http://127.0.0.1:8899")
		t.Setenv("SOLSTEP_WS_URL", "ws://127.0.0.1:9900")
		t.Setenv("SOLSTEP_PROGRAM_ID", "11111111111111111111111111111111")
		t.Setenv("SOLSTEP_VERBOSE", "true")
		t.Setenv("SOLSTEP_STORE", "postgres://solstep@localhost/solstep")

		cfg, err := LoadConfig()
		require.NoError(t, err)
		require.Equal(t, "http://127.0.0.1:8899", cfg.RPCURL)
		require.True(t, cfg.ProgramID.IsZero())
		require.True(t, cfg.Verbose)
		require.Equal(t, "postgres://solstep@localhost/solstep", cfg.Store)

		ws, err := cfg.WebsocketURL()
		require.NoError(t, err)
		require.Equal(t, "ws://127.0.0.1:9900", ws)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("SOLSTEP_PROGRAM_ID", "not-base58!")
		_, err := LoadConfig()
		require.Error(t, err)

		t.Setenv("SOLSTEP_PROGRAM_ID", "")
		t.Setenv("SOLSTEP_VERBOSE", "maybe")
		_, err = LoadConfig()
		require.Error(t, err)
	})
}
