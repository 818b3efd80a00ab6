package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	solstep "solstep-cli/solana"
)

const defaultRPCURL = "https://api.devnet.solana.com"

// Config is the CLI configuration. Values come from the environment (and a
// .env file when present); command-line flags override them.
type Config struct {
	RPCURL     string
	WSURL      string
	ProgramID  solana.PublicKey
	Store      string
	WalletPath string
	Verbose    bool
}

// LoadConfig reads .env and the SOLSTEP_* environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		RPCURL:    os.Getenv("SOLSTEP_RPC_URL"),
		WSURL:     os.Getenv("SOLSTEP_WS_URL"),
		ProgramID: solstep.ProgramID,
		Store:     os.Getenv("SOLSTEP_STORE"),
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = defaultRPCURL
		if heliusApiKey := os.Getenv("HELIUS_API_KEY"); heliusApiKey != "" {
			cfg.RPCURL = fmt.Sprintf("https://devnet.helius-rpc.com/?api-key=%s", heliusApiKey)
		}
	}
	if id := os.Getenv("SOLSTEP_PROGRAM_ID"); id != "" {
		key, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return nil, fmt.Errorf("invalid SOLSTEP_PROGRAM_ID: %w", err)
		}
		cfg.ProgramID = key
	}
	if v := os.Getenv("SOLSTEP_VERBOSE"); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SOLSTEP_VERBOSE: %w", err)
		}
		cfg.Verbose = verbose
	}
	cfg.WalletPath = os.Getenv("SOLSTEP_WALLET")
	if cfg.WalletPath == "" {
		path, err := solstep.DefaultWalletPath()
		if err != nil {
			return nil, err
		}
		cfg.WalletPath = path
	}
	return cfg, nil
}

// WebsocketURL is WSURL, or one derived from RPCURL when unset.
func (c *Config) WebsocketURL() (string, error) {
	if c.WSURL != "" {
		return c.WSURL, nil
	}
	return deriveWSURL(c.RPCURL)
}

// deriveWSURL maps an RPC endpoint to its pubsub endpoint: http becomes ws,
// https becomes wss, and a local validator's 8899 port becomes 8900.
func deriveWSURL(rpcURL string) (string, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url %q: %w", rpcURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}
	if u.Port() == "8899" {
		u.Host = u.Hostname() + ":8900"
	}
	return u.String(), nil
}
