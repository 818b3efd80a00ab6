package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"solstep-cli/challenge"
	"solstep-cli/reconcile"
	solstep "solstep-cli/solana"
)

var (
	createTitle         string
	createOrganizerName string
	createStakeSOL      float64
	createStart         string
	createDuration      time.Duration
	createMax           uint32
	createSpots         []string
	createInitEscrow    bool

	captureParticipant string
	settleWinner       string
	assumeYes          bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a challenge and fund its escrow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			wallet, err := a.signer()
			if err != nil {
				return err
			}
			req, err := buildCreateRequest(time.Now())
			if err != nil {
				return err
			}

			fmt.Println(promptStyle.Render(fmt.Sprintf("\nCreating challenge %q... Please wait.", req.Title)))
			address, res, err := a.svc.Create(ctx, wallet, req)
			if err != nil {
				return err
			}
			if !printResult("Challenge created", res) {
				return nil
			}
			fmt.Println(infoStyle.Render(fmt.Sprintf("   Challenge: %s", address)))

			if !createInitEscrow {
				fmt.Println(promptStyle.Render("The challenge stays pending until you run init-escrow."))
				return nil
			}
			fmt.Println(promptStyle.Render("\nInitializing escrow..."))
			res, err = a.svc.InitEscrow(ctx, wallet, address)
			if err != nil {
				return err
			}
			printResult("Escrow initialized", res)
			return nil
		})
	},
}

// buildCreateRequest turns the create flags into a request, prompting for a
// title when none was given.
func buildCreateRequest(now time.Time) (challenge.CreateRequest, error) {
	title := createTitle
	if title == "" {
		prompt := &survey.Input{Message: "Enter a title for the challenge:"}
		if err := survey.AskOne(prompt, &title, survey.WithValidator(survey.Required)); err != nil {
			return challenge.CreateRequest{}, err
		}
	}

	start := now
	if createStart != "" && createStart != "now" {
		t, err := time.Parse(time.RFC3339, createStart)
		if err != nil {
			return challenge.CreateRequest{}, fmt.Errorf("invalid --start, want RFC3339: %w", err)
		}
		start = t
	}
	if createDuration <= 0 {
		return challenge.CreateRequest{}, errors.New("--duration must be positive")
	}
	if createStakeSOL <= 0 {
		return challenge.CreateRequest{}, errors.New("--stake must be positive")
	}

	spots, err := parseSpots(createSpots)
	if err != nil {
		return challenge.CreateRequest{}, err
	}
	return challenge.CreateRequest{
		Title:           title,
		OrganizerName:   createOrganizerName,
		Spots:           spots,
		StakeLamports:   solToLamports(createStakeSOL),
		Start:           start,
		End:             start.Add(createDuration),
		MaxParticipants: createMax,
	}, nil
}

// parseSpots accepts "id" or "id=Display Name" entries.
func parseSpots(entries []string) ([]challenge.Spot, error) {
	spots := make([]challenge.Spot, 0, len(entries))
	for _, e := range entries {
		id, name, _ := strings.Cut(e, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid spot %q", e)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = id
		}
		spots = append(spots, challenge.Spot{ID: id, Name: name})
	}
	return spots, nil
}

func solToLamports(sol float64) uint64 {
	return uint64(math.Round(sol * float64(solana.LAMPORTS_PER_SOL)))
}

func lamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

func parseKey(what, s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s address %q: %w", what, s, err)
	}
	return key, nil
}

// printResult reports a submission and returns true when it was confirmed.
func printResult(done string, res solstep.Result) bool {
	switch res.Outcome {
	case solstep.OutcomeConfirmed:
		fmt.Println(successStyle.Render(fmt.Sprintf("\n✅ %s!", done)))
		fmt.Printf("   Transaction Signature: %s\n", res.Signature)
		return true
	case solstep.OutcomeRejected:
		fmt.Println(warningStyle.Render(fmt.Sprintf("\n❌ Rejected: %s", res.Reason)))
	default:
		fmt.Println(warningStyle.Render("\n⏳ Not confirmed within 30 seconds; the transaction may still land."))
		fmt.Printf("   Transaction Signature: %s\n", res.Signature)
		fmt.Println("   Check the signature on the Solana Explorer before retrying.")
	}
	return false
}

// challengeAction builds a command that submits one instruction against the
// challenge named by its only argument.
func challengeAction(use, short, done string, submit func(ctx context.Context, a *app, wallet *solstep.Wallet, challenge solana.PublicKey) (solstep.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <challenge>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseKey("challenge", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				wallet, err := a.signer()
				if err != nil {
					return err
				}
				res, err := submit(ctx, a, wallet, address)
				if err != nil {
					return err
				}
				printResult(done, res)
				return nil
			})
		},
	}
}

var initEscrowCmd = challengeAction("init-escrow", "Create the escrow account for your challenge", "Escrow initialized",
	func(ctx context.Context, a *app, w *solstep.Wallet, c solana.PublicKey) (solstep.Result, error) {
		return a.svc.InitEscrow(ctx, w, c)
	})

var joinCmd = challengeAction("join", "Stake into a challenge", "Joined challenge",
	func(ctx context.Context, a *app, w *solstep.Wallet, c solana.PublicKey) (solstep.Result, error) {
		return a.svc.Join(ctx, w, c)
	})

var finalizeCmd = challengeAction("finalize", "Finalize your challenge after its end time", "Challenge finalized",
	func(ctx context.Context, a *app, w *solstep.Wallet, c solana.PublicKey) (solstep.Result, error) {
		return a.svc.Finalize(ctx, w, c)
	})

var timeoutCmd = challengeAction("timeout", "Refund every participant of an expired, unfinalized challenge", "Challenge timed out",
	func(ctx context.Context, a *app, w *solstep.Wallet, c solana.PublicKey) (solstep.Result, error) {
		return a.svc.Timeout(ctx, w, c)
	})

var closeCmd = challengeAction("close", "Close a settled challenge and recover its rent", "Challenge closed",
	func(ctx context.Context, a *app, w *solstep.Wallet, c solana.PublicKey) (solstep.Result, error) {
		return a.svc.Close(ctx, w, c)
	})

var captureCmd = &cobra.Command{
	Use:   "capture <challenge> <spot>",
	Short: "Record a captured spot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseKey("challenge", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var participant solana.PublicKey
			if captureParticipant != "" {
				if participant, err = parseKey("participant", captureParticipant); err != nil {
					return err
				}
			} else {
				wallet, err := a.signer()
				if err != nil {
					return err
				}
				participant = wallet.PublicKey()
			}

			progress, completed, err := a.svc.Capture(ctx, participant, address, args[1])
			if err != nil {
				return err
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("\n📍 Spot %s captured (%d/10)", args[1], len(progress.SpotsCaptured))))
			if completed {
				fmt.Println(titleStyle.Render("🏁 All spots captured! Completion recorded."))
			}
			return nil
		})
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle <challenge>",
	Short: "Pay the escrow to the winner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseKey("challenge", args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			wallet, err := a.signer()
			if err != nil {
				return err
			}
			v, err := a.svc.View(ctx, address)
			if err != nil {
				return err
			}

			var winner solana.PublicKey
			if settleWinner != "" {
				if winner, err = parseKey("winner", settleWinner); err != nil {
					return err
				}
			} else if !assumeYes {
				if winner, err = askWinner(v); err != nil {
					return err
				}
			}

			settlement, err := reconcile.CanSettle(v, wallet.PublicKey(), winner)
			if err != nil {
				return err
			}
			if settlement.HasUnrewarded() {
				fmt.Println(warningStyle.Render(fmt.Sprintf(
					"⚠️  %d participant(s) beyond the named loser will not be refunded; the winner receives every stake.",
					len(settlement.UnrewardedParticipants))))
			}
			if !assumeYes {
				confirm := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Pay %.9f SOL to %s?", lamportsToSOL(v.Challenge.ExpectedStake()), settlement.Winner),
					Default: false,
				}
				if err := survey.AskOne(prompt, &confirm); err != nil {
					return err
				}
				if !confirm {
					fmt.Println(promptStyle.Render("\nSettlement cancelled."))
					return nil
				}
			}

			_, res, err := a.svc.Settle(ctx, wallet, address, settlement.Winner)
			if err != nil {
				return err
			}
			printResult("Challenge settled", res)
			return nil
		})
	},
}

// askWinner offers the participants, with the policy candidate first.
func askWinner(v reconcile.View) (solana.PublicKey, error) {
	if len(v.Challenge.Participants) == 0 {
		return solana.PublicKey{}, reconcile.ErrNoOpponent
	}
	options := make([]string, 0, len(v.Challenge.Participants))
	if w, ok := reconcile.WinnerOf(v); ok {
		options = append(options, w.String())
	}
	for _, p := range v.Challenge.Participants {
		if len(options) > 0 && options[0] == p.String() {
			continue
		}
		options = append(options, p.String())
	}

	choice := ""
	prompt := &survey.Select{
		Message: promptStyle.Render("Choose the winner:"),
		Options: options,
		Description: func(value string, _ int) string {
			key := solana.MustPublicKeyFromBase58(value)
			return fmt.Sprintf("%d/10 spots", len(v.Captured(key)))
		},
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBase58(choice)
}

func init() {
	f := createCmd.Flags()
	f.StringVar(&createTitle, "title", "", "challenge title")
	f.StringVar(&createOrganizerName, "organizer-name", "", "display name shown with the challenge")
	f.Float64Var(&createStakeSOL, "stake", 0.1, "stake per participant in SOL")
	f.StringVar(&createStart, "start", "now", "start time (RFC3339 or \"now\")")
	f.DurationVar(&createDuration, "duration", 24*time.Hour, "how long the challenge runs")
	f.Uint32Var(&createMax, "max", 4, "maximum number of participants")
	f.StringSliceVar(&createSpots, "spot", nil, "spot id or id=name, exactly 10 (repeatable)")
	f.BoolVar(&createInitEscrow, "init-escrow", true, "initialize the escrow right after creation")
	_ = createCmd.MarkFlagRequired("spot")

	captureCmd.Flags().StringVar(&captureParticipant, "participant", "", "participant address (defaults to your wallet)")

	settleCmd.Flags().StringVar(&settleWinner, "winner", "", "winner address (defaults to the designated or earliest finisher)")
	settleCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts")

	rootCmd.AddCommand(createCmd, initEscrowCmd, joinCmd, captureCmd, finalizeCmd, settleCmd, timeoutCmd, closeCmd)
}
