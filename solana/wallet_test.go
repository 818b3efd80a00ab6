package solstep_protocol

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestSolstep_Wallet_LoadOrCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "wallet.json")

	created, isNew, err := LoadOrCreateWallet(path)
	require.NoError(t, err)
	require.True(t, isNew)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, isNew, err := LoadOrCreateWallet(path)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, created.PublicKey(), loaded.PublicKey())
}

func TestSolstep_Wallet_LoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wallet.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2, 3]`), 0600))
	_, err := LoadWallet(path)
	require.Error(t, err)
}

func TestSolstep_Wallet_SignTransaction(t *testing.T) {
	t.Parallel()

	wallet := &Wallet{PrivateKey: solana.NewWallet().PrivateKey}
	ix, err := DefaultProgram.NewFinalizeChallengeInstruction(wallet.PublicKey(), DefaultProgram.ChallengeAddress(wallet.PublicKey()))
	require.NoError(t, err)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(wallet.PublicKey()))
	require.NoError(t, err)

	require.NoError(t, wallet.SignTransaction(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)
	require.NoError(t, tx.VerifySignatures())

	require.ErrorIs(t, WatchOnly(wallet.PublicKey()).SignTransaction(context.Background(), tx), ErrSigningUnavailable)
}
