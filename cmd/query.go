package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"solstep-cli/reconcile"
	"solstep-cli/storage"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every challenge with its reconciled status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return listChallenges(ctx, a, listStatus)
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare every escrow balance with its expected stake",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, auditEscrows)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [wallet]",
	Short: "Show the challenges a wallet organized or joined",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var wallet solana.PublicKey
			if len(args) == 1 {
				key, err := parseKey("wallet", args[0])
				if err != nil {
					return err
				}
				wallet = key
			} else {
				w, err := a.signer()
				if err != nil {
					return err
				}
				wallet = w.PublicKey()
			}
			return showHistory(ctx, a, wallet)
		})
	},
}

func listChallenges(ctx context.Context, a *app, status string) error {
	fmt.Println(promptStyle.Render("\nFetching challenges... Please wait."))
	views, err := a.svc.List(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("🏃 Challenges (%d)", len(views))))
	shown := 0
	for _, v := range views {
		if status != "" && v.Status.String() != status {
			continue
		}
		shown++
		c := v.Challenge
		fmt.Println(infoStyle.Render(fmt.Sprintf("%s  [%s]", v.Title(), v.Status)))
		fmt.Printf("   Address:      %s\n", c.PublicKey)
		fmt.Printf("   Organizer:    %s\n", c.Organizer)
		fmt.Printf("   Stake:        %.9f SOL\n", lamportsToSOL(c.StakeAmount))
		fmt.Printf("   Participants: %d/%d\n", c.ParticipantCount, c.MaxParticipants)
		fmt.Printf("   Ends:         %s\n", time.Unix(c.EndTs, 0).Local().Format(time.DateTime))
		if w, ok := reconcile.WinnerOf(v); ok {
			label := "Leader"
			if v.HasWinner() {
				label = "Winner"
			}
			fmt.Printf("   %-13s %s\n", label+":", w)
		}
		switch {
		case v.Metadata == nil:
			fmt.Println(warningStyle.Render("   No off-chain metadata for this challenge."))
		case v.Metadata.Status == storage.StatusPending:
			fmt.Println(warningStyle.Render("   Escrow not initialized yet."))
		}
	}
	if shown == 0 {
		fmt.Println(promptStyle.Render("No challenges found."))
	}
	return nil
}

func auditEscrows(ctx context.Context, a *app) error {
	fmt.Println(promptStyle.Render("\nAuditing escrows... Please wait."))
	reports, err := a.svc.Audit(ctx)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("🔍 Escrow Audit (%d)", len(reports))))
	for _, r := range reports {
		style := successStyle
		if r.Delta < 0 {
			style = warningStyle
		}
		fmt.Println(infoStyle.Render(r.Challenge.String()))
		fmt.Printf("   Escrow:   %s\n", r.Escrow)
		fmt.Printf("   Expected: %.9f SOL\n", lamportsToSOL(r.Expected))
		fmt.Printf("   Actual:   %.9f SOL\n", lamportsToSOL(r.Actual))
		fmt.Println(style.Render(fmt.Sprintf("   Delta:    %+d lamports (rent reserve %d)", r.Delta, r.Reserve)))
	}
	return nil
}

func showHistory(ctx context.Context, a *app, wallet solana.PublicKey) error {
	fmt.Println(promptStyle.Render("\nLoading history... Please wait."))
	entries, err := a.svc.History(ctx, wallet)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("📜 History for %s", wallet)))
	if len(entries) == 0 {
		fmt.Println(promptStyle.Render("No challenges yet."))
		return nil
	}
	for _, e := range entries {
		role := e.Participation.String()
		if e.Organized {
			role += ", organizer"
		}
		fmt.Println(infoStyle.Render(fmt.Sprintf("%s  [%s] (%s)", e.Title, e.Status, role)))
		fmt.Printf("   Address:  %s\n", e.Challenge)
		if e.Participation != reconcile.NotParticipated {
			fmt.Printf("   Captured: %d/10\n", e.Captured)
			fmt.Printf("   Payout:   %.9f SOL\n", lamportsToSOL(e.Payout))
		}
	}
	return nil
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show active, completed or timed_out challenges")
	rootCmd.AddCommand(listCmd, auditCmd, historyCmd)
}
