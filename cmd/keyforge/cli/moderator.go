package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keyforge/keyforge/internal/service"
)

func newModeratorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "moderator",
		Aliases: []string{"mod"},
		Short:   "Manage moderator accounts",
		Long:    "Create, list and delete moderators, and settle their accrued debt.",
	}

	cmd.AddCommand(newModeratorCreateCmd())
	cmd.AddCommand(newModeratorListCmd())
	cmd.AddCommand(newModeratorDeleteCmd())
	cmd.AddCommand(newModeratorClearDebtCmd())

	return cmd
}

// ---------- moderator create ----------

func newModeratorCreateCmd() *cobra.Command {
	var req service.CreateModeratorRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a moderator account",
		Long:  "Create a moderator. If --password is omitted you will be prompted for it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Password == "" {
				pw, err := promptPassword(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				req.Password = pw
			}
			return runModeratorCreate(cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "Moderator username (required)")
	cmd.Flags().StringVar(&req.Password, "password", "", "Moderator password (prompted if omitted)")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runModeratorCreate(w io.Writer, req service.CreateModeratorRequest) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.ledger.CreateModerator(context.Background(), a.admin(), req)
	if err != nil {
		return fmt.Errorf("create moderator: %w", err)
	}
	fmt.Fprintf(w, "Created moderator %s (id %s)\n", m.Username, m.ID)
	return nil
}

// ---------- moderator list ----------

func newModeratorListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List moderators and their debt",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			mods, err := a.ledger.ListModerators(context.Background(), a.admin())
			if err != nil {
				return fmt.Errorf("list moderators: %w", err)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSONTo(w, mods)
			}
			if len(mods) == 0 {
				fmt.Fprintln(w, "No moderators. Use 'keyforge moderator create' to add one.")
				return nil
			}

			fmt.Fprintf(w, "%-24s %-12s %-20s\n", "USERNAME", "DEBT", "CREATED")
			fmt.Fprintf(w, "%-24s %-12s %-20s\n", "--------", "----", "-------")
			for _, m := range mods {
				fmt.Fprintf(w, "%-24s %-12s %-20s\n", m.Username, m.Debt.String(), m.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- moderator delete ----------

func newModeratorDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <username>",
		Aliases: []string{"rm"},
		Short:   "Delete a moderator account",
		Long:    "Delete a moderator together with every key the moderator generated.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			m, err := a.ledger.ModeratorByUsername(ctx, a.admin(), args[0])
			if err != nil {
				return fmt.Errorf("moderator %s: %w", args[0], err)
			}
			removed, err := a.ledger.DeleteModerator(ctx, a.admin(), m.ID)
			if err != nil {
				return fmt.Errorf("delete moderator: %w", err)
			}
			if m.Debt != 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s had an outstanding debt of %s\n", m.Username, m.Debt)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted moderator %s and %d key(s)\n", m.Username, removed)
			return nil
		},
	}
}

// ---------- moderator clear-debt ----------

func newModeratorClearDebtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-debt <username>",
		Short: "Reset a moderator's debt to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			m, err := a.ledger.ModeratorByUsername(ctx, a.admin(), args[0])
			if err != nil {
				return fmt.Errorf("moderator %s: %w", args[0], err)
			}
			if err := a.ledger.ClearDebt(ctx, a.admin(), m.ID); err != nil {
				return fmt.Errorf("clear debt: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared debt of %s for %s\n", m.Debt, m.Username)
			return nil
		},
	}
}
