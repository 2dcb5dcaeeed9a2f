package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/infra/policyopa"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Work with Rego rule bundles",
	}

	var inputPath string
	eval := &cobra.Command{
		Use:   "eval <bundle-dir>",
		Short: "Evaluate a rule bundle against a commit input document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			var input domain.RuleInput
			if err := json.Unmarshal(b, &input); err != nil {
				return fmt.Errorf("decode input: %w", err)
			}
			engine, err := policyopa.NewEngineFromBundlePath(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res, err := engine.Evaluate(cmd.Context(), input)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Result.Allow {
				return exitError{msg: "denied"}
			}
			return nil
		},
	}
	eval.Flags().StringVar(&inputPath, "input", "", "JSON rule input document")
	_ = eval.MarkFlagRequired("input")

	rules.AddCommand(eval, &cobra.Command{
		Use:   "hash <bundle-dir>",
		Short: "Print the bundle hash recorded with rule decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := policyopa.ComputeBundleHashFromPath(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	})
	return rules
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
