package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

var (
	flagRPC     string
	flagWS      string
	flagStore   string
	flagWallet  string
	flagProgram string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "solstep",
	Short: "SolStep runs staked spot-capture challenges on Solana.",
	Long: `An interactive command-line interface to create, join and settle SolStep
challenges, record spot captures, and audit challenge escrows.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRPC, "rpc", "", "Solana RPC endpoint (SOLSTEP_RPC_URL)")
	pf.StringVar(&flagWS, "ws", "", "Solana websocket endpoint (SOLSTEP_WS_URL)")
	pf.StringVar(&flagStore, "store", "", "JSON store path or postgres:// DSN (SOLSTEP_STORE)")
	pf.StringVar(&flagWallet, "wallet", "", "wallet keypair file (SOLSTEP_WALLET)")
	pf.StringVar(&flagProgram, "program", "", "challenge program id (SOLSTEP_PROGRAM_ID)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging (SOLSTEP_VERBOSE)")
}

// loadConfig resolves the environment and applies any flags that were set.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("rpc") {
		cfg.RPCURL = flagRPC
		if !flags.Changed("ws") {
			cfg.WSURL = ""
		}
	}
	if flags.Changed("ws") {
		cfg.WSURL = flagWS
	}
	if flags.Changed("store") {
		cfg.Store = flagStore
	}
	if flags.Changed("wallet") {
		cfg.WalletPath = flagWallet
	}
	if flags.Changed("program") {
		key, err := solana.PublicKeyFromBase58(flagProgram)
		if err != nil {
			return nil, fmt.Errorf("invalid --program: %w", err)
		}
		cfg.ProgramID = key
	}
	if flags.Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
	return cfg, nil
}

// withApp runs fn with a fully wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// run is the interactive entry point when no subcommand is given.
func run(cmd *cobra.Command, args []string) error {
	myFigure := figure.NewFigure("SOLSTEP", "larry3d", true)
	fmt.Println(titleStyle.Render(myFigure.String()))

	return withApp(cmd, func(ctx context.Context, a *app) error {
		wallet, err := a.signer()
		if err != nil {
			return err
		}
		fmt.Println(promptStyle.Render(fmt.Sprintf("Address: %s", wallet.PublicKey())))

		for {
			choice := ""
			menu := &survey.Select{
				Message: promptStyle.Render("Choose an action:"),
				Options: []string{
					"List Challenges",
					"My History",
					"Audit Escrows",
					"Wallet Balance",
					"Exit",
				},
				Help: "Use the arrow keys to navigate, and press Enter to select.",
			}
			if err := survey.AskOne(menu, &choice); err != nil {
				if errors.Is(err, terminal.InterruptErr) {
					return nil
				}
				return err
			}

			var actionErr error
			switch choice {
			case "List Challenges":
				actionErr = listChallenges(ctx, a, "")
			case "My History":
				actionErr = showHistory(ctx, a, wallet.PublicKey())
			case "Audit Escrows":
				actionErr = auditEscrows(ctx, a)
			case "Wallet Balance":
				actionErr = showBalance(ctx, a, wallet.PublicKey())
			case "Exit":
				fmt.Println("Exiting SolStep CLI.")
				return nil
			}
			if actionErr != nil {
				fmt.Println(warningStyle.Render(fmt.Sprintf("❌ %v", actionErr)))
			}
			fmt.Println()
		}
	})
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(warningStyle.Render(err.Error()))
		stop()
		os.Exit(1)
	}
}
