package solstep_protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

const (
	defaultConfigDirName = ".config"
	solstepConfigDirName = "solstep"
	walletFileName       = "wallet.json"
)

// Wallet holds the Solana keypair for the CLI.
type Wallet struct {
	PrivateKey solana.PrivateKey
}

// PublicKey returns the public key of the wallet.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.PrivateKey.PublicKey()
}

// SignTransaction signs tx with the wallet key. The wallet must be the only
// required signer.
func (w *Wallet) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	if len(w.PrivateKey) != solana.PrivateKeyLength {
		return ErrSigningUnavailable
	}
	pub := w.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.PrivateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}

// WatchOnly is a SigningContext that knows a public key but cannot sign. It
// backs read-only commands such as list and history.
type WatchOnly solana.PublicKey

func (w WatchOnly) PublicKey() solana.PublicKey {
	return solana.PublicKey(w)
}

func (w WatchOnly) SignTransaction(context.Context, *solana.Transaction) error {
	return ErrSigningUnavailable
}

// LoadOrCreateWallet loads a keypair file from path, or creates one if none
// exists. An empty path means the default location. created reports whether a
// new keypair was written.
func LoadOrCreateWallet(path string) (wallet *Wallet, created bool, err error) {
	if path == "" {
		if path, err = DefaultWalletPath(); err != nil {
			return nil, false, fmt.Errorf("failed to get wallet path: %w", err)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		wallet, err := createNewWallet(path)
		return wallet, err == nil, err
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to check for wallet file: %w", err)
	}

	wallet, err = LoadWallet(path)
	return wallet, false, err
}

// LoadWallet reads a keypair file in the solana-keygen JSON format.
func LoadWallet(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	var privateKeyBytes []byte
	if err := json.Unmarshal(data, &privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet file: %w", err)
	}

	if len(privateKeyBytes) != solana.PrivateKeyLength {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", solana.PrivateKeyLength, len(privateKeyBytes))
	}

	return &Wallet{PrivateKey: solana.PrivateKey(privateKeyBytes)}, nil
}

func createNewWallet(path string) (*Wallet, error) {
	privateKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	wallet := &Wallet{PrivateKey: privateKey}

	if err := saveWalletToFile(wallet, path); err != nil {
		return nil, fmt.Errorf("failed to save new wallet: %w", err)
	}
	return wallet, nil
}

// saveWalletToFile writes the key as a JSON array of 64 byte values, the
// format solana-keygen uses.
func saveWalletToFile(wallet *Wallet, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create wallet directory: %w", err)
	}

	ints := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write wallet file: %w", err)
	}
	return nil
}

// DefaultWalletPath returns e.g. /home/user/.config/solstep/wallet.json.
func DefaultWalletPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultConfigDirName, solstepConfigDirName, walletFileName), nil
}
