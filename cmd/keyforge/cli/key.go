package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"keys"},
		Short:   "Manage license keys",
		Long:    "Generate, list, activate, verify and delete license keys. Commands act as the configured admin.",
	}

	cmd.AddCommand(newKeyGenerateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyActivateCmd())
	cmd.AddCommand(newKeyVerifyCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key generate ----------

func newKeyGenerateCmd() *cobra.Command {
	var (
		req        service.GenerateRequest
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a batch of license keys",
		Long:  "Generate inactive license keys. Validity is counted from activation.",
		Example: `  keyforge key generate --prefix TRIAL --count 10 --days 7
  keyforge key generate --prefix LIFETIME --days 36500 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyGenerate(cmd.OutOrStdout(), req, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&req.Prefix, "prefix", "", "Key prefix (required)")
	cmd.Flags().IntVar(&req.Count, "count", 1, "Number of keys to generate (1-100)")
	cmd.Flags().IntVar(&req.ValidityDays, "days", 30, "Validity in days, counted from activation")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("prefix")

	return cmd
}

func runKeyGenerate(w io.Writer, req service.GenerateRequest, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.licenses.Generate(context.Background(), a.admin(), req)
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}

	if jsonOutput {
		return writeJSONTo(w, result)
	}
	for _, k := range result.Keys {
		fmt.Fprintln(w, k.Key)
	}
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		filter     model.KeyFilter
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List license keys, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.OutOrStdout(), filter, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&filter.Prefix, "prefix", "", "Only keys with exactly this prefix")
	cmd.Flags().StringVar(&filter.CreatedBy, "created-by", "", "Only keys created by this username")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(w io.Writer, filter model.KeyFilter, jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.licenses.ListKeys(context.Background(), a.admin(), filter)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	if jsonOutput {
		return writeJSONTo(w, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No license keys found. Use 'keyforge key generate' to create some.")
		return nil
	}

	fmt.Fprintf(w, "%-48s %-6s %-8s %-12s %-12s %-16s\n", "KEY", "DAYS", "ACTIVE", "ACTIVATED", "EXPIRES", "CREATED BY")
	fmt.Fprintf(w, "%-48s %-6s %-8s %-12s %-12s %-16s\n", "---", "----", "------", "---------", "-------", "----------")
	for _, k := range keys {
		active := "no"
		if k.IsActive {
			active = "yes"
		}
		fmt.Fprintf(w, "%-48s %-6d %-8s %-12s %-12s %-16s\n",
			k.Key, k.ValidityDays, active, orDash(k.ActivationDate), orDash(k.Expires), k.CreatedBy)
	}
	return nil
}

// ---------- key activate ----------

func newKeyActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <key>",
		Short: "Activate a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.licenses.Activate(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("activate %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (expires %s)\n", result.Message, result.Expires)
			return nil
		},
	}
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key>",
		Short: "Verify a license key",
		Long:  "Report whether a key is activated and unexpired. Exits non-zero for invalid keys.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.licenses.Verify(context.Background(), args[0])
			switch {
			case err == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "%s (expires %s)\n", result.Message, result.Expires)
				return nil
			case errors.Is(err, service.ErrExpired):
				return fmt.Errorf("%s: expired on %s", args[0], result.Expires)
			default:
				return fmt.Errorf("%s: %w", args[0], err)
			}
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:     "delete [key]",
		Aliases: []string{"rm"},
		Short:   "Delete a key, or all keys with an exact prefix",
		Example: `  keyforge key delete TRIAL-0123456789ABCDEF0123456789ABCDEF
  keyforge key delete --prefix TRIAL`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (prefix != "") {
				return fmt.Errorf("specify either a key or --prefix")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			var removed int64
			if prefix != "" {
				removed, err = a.licenses.DeleteByPrefix(ctx, a.admin(), prefix)
			} else {
				removed, err = a.licenses.DeleteKey(ctx, a.admin(), args[0])
			}
			if err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d key(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Delete every key whose prefix equals this value")

	return cmd
}

func writeJSONTo(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
