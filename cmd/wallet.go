package cmd

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show your wallet address and balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			wallet, err := a.signer()
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("🔑 Your Current Wallet Address:"))
			fmt.Println(wallet.PublicKey().String())
			return showBalance(ctx, a, wallet.PublicKey())
		})
	},
}

var walletExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print your private key (UNSAFE)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			wallet, err := a.signer()
			if err != nil {
				return err
			}
			fmt.Println(warningStyle.Render("\n⚠️ WARNING: EXPORTING YOUR PRIVATE KEY ⚠️"))
			fmt.Println(promptStyle.Render("Sharing your private key can result in the permanent loss of your funds."))
			confirm := false
			prompt := &survey.Confirm{Message: "Are you absolutely sure?", Default: false}
			if err := survey.AskOne(prompt, &confirm); err != nil {
				return err
			}
			if !confirm {
				fmt.Println(promptStyle.Render("\nExport cancelled."))
				return nil
			}
			fmt.Println(titleStyle.Render("\n🔐 Your Private Key (Base58):"))
			fmt.Println(wallet.PrivateKey.String())
			return nil
		})
	},
}

func showBalance(ctx context.Context, a *app, key solana.PublicKey) error {
	fmt.Println(promptStyle.Render("\nChecking balance... Please wait."))
	balanceLamports, err := a.client.GetBalance(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	fmt.Println(titleStyle.Render("💰 Your Wallet Balance:"))
	fmt.Printf("   %.9f SOL\n", lamportsToSOL(balanceLamports))
	return nil
}

func init() {
	walletCmd.AddCommand(walletExportCmd)
	rootCmd.AddCommand(walletCmd)
}
