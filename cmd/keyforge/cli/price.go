package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/keyforge/keyforge/internal/config"
	"github.com/keyforge/keyforge/internal/service"
)

func newPriceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "price",
		Aliases: []string{"prices"},
		Short:   "Manage validity tier prices",
		Long:    "Set, list and bulk import the unit price charged to moderators per validity tier.",
	}

	cmd.AddCommand(newPriceSetCmd())
	cmd.AddCommand(newPriceListCmd())
	cmd.AddCommand(newPriceImportCmd())

	return cmd
}

// ---------- price set ----------

func newPriceSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <days> <price>",
		Short:   "Set the price of one validity tier",
		Example: `  keyforge price set 30 2.50`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid days %q: must be a whole number", args[0])
			}
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: must be a number", args[1])
			}
			return runPriceUpsert(cmd.OutOrStdout(), cmd.ErrOrStderr(), []service.PriceEntry{service.FormatPriceEntry(days, price)})
		},
	}
}

// ---------- price list ----------

func newPriceListCmd() *cobra.Command {
	var jsonOutput, yamlOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tier prices",
		Long:    "List tier prices. --yaml prints a document that 'keyforge price import' accepts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			prices, err := a.ledger.ListPrices(context.Background(), a.admin())
			if err != nil {
				return fmt.Errorf("list prices: %w", err)
			}

			w := cmd.OutOrStdout()
			switch {
			case jsonOutput:
				return writeJSONTo(w, prices)
			case yamlOutput:
				pf := &config.PriceFile{Prices: []config.PriceFileEntry{}}
				for _, p := range prices {
					pf.Prices = append(pf.Prices, config.PriceFileEntry{
						ValidityDays: strconv.Itoa(p.ValidityDays),
						Price:        p.Price.String(),
					})
				}
				out, err := pf.Marshal()
				if err != nil {
					return err
				}
				_, err = w.Write(out)
				return err
			}

			if len(prices) == 0 {
				fmt.Fprintln(w, "No prices configured. Unpriced tiers cost nothing.")
				return nil
			}
			fmt.Fprintf(w, "%-8s %-10s\n", "DAYS", "PRICE")
			fmt.Fprintf(w, "%-8s %-10s\n", "----", "-----")
			for _, p := range prices {
				fmt.Fprintf(w, "%-8d %-10s\n", p.ValidityDays, p.Price.String())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&yamlOutput, "yaml", false, "Output as an importable YAML price file")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")

	return cmd
}

// ---------- price import ----------

func newPriceImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Apply tier prices from a YAML file",
		Long: `Apply every well-formed row of a price file in one transaction. Malformed
rows are skipped and reported.

  prices:
    - validity_days: 30
      price: 2.50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := config.LoadPriceFile(args[0])
			if err != nil {
				return err
			}
			entries := make([]service.PriceEntry, 0, len(pf.Prices))
			for _, row := range pf.Prices {
				entries = append(entries, service.PriceEntry{
					ValidityDays: service.NumericText(row.ValidityDays),
					Price:        service.NumericText(row.Price),
				})
			}
			return runPriceUpsert(cmd.OutOrStdout(), cmd.ErrOrStderr(), entries)
		},
	}
}

func runPriceUpsert(w, errW io.Writer, entries []service.PriceEntry) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.ledger.UpsertPrices(context.Background(), a.admin(), entries)
	if err != nil {
		return fmt.Errorf("update prices: %w", err)
	}

	fmt.Fprintf(w, "Applied %d price(s)\n", result.Applied)
	for _, s := range result.Skipped {
		fmt.Fprintf(errW, "skipped row %d (validity_days=%q price=%q): %s\n", s.Index+1, s.ValidityDays, s.Price, s.Reason)
	}
	if result.Applied == 0 && len(result.Skipped) > 0 {
		return fmt.Errorf("no prices applied")
	}
	return nil
}
