package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/infra/logging"
	"gatekeeper/internal/usecase"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "gatekeeperctl",
		Short:         "Inspect trust policies and evaluate pull requests offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	logger := func() *slog.Logger { return logging.New(os.Stderr, logLevel, "text") }
	root.AddCommand(
		newPolicyCmd(logger),
		newEvaluateCmd(logger),
		newRulesCmd(),
	)
	return root
}

type policyView struct {
	Label                     string   `json:"label"`
	PolicyType                string   `json:"policy_type"`
	IsDefault                 bool     `json:"is_default"`
	RequireSignedCommits      bool     `json:"require_signed_commits"`
	AllowUnsignedMergeCommits bool     `json:"allow_unsigned_merge_commits"`
	AllowBots                 bool     `json:"allow_bots"`
	AllowedOrganizations      []string `json:"allowed_organizations"`
	AllowedUsers              []string `json:"allowed_users"`
}

func newPolicyView(p domain.Policy) policyView {
	return policyView{
		Label:                     p.Label(),
		PolicyType:                string(p.PolicyType),
		IsDefault:                 p.IsDefault,
		RequireSignedCommits:      p.RequireSignedCommits,
		AllowUnsignedMergeCommits: p.AllowUnsignedMergeCommits,
		AllowBots:                 p.AllowBots,
		AllowedOrganizations:      p.AllowedOrganizations(),
		AllowedUsers:              p.AllowedUsers(),
	}
}

func newPolicyCmd(logger func() *slog.Logger) *cobra.Command {
	policy := &cobra.Command{
		Use:   "policy",
		Short: "Work with vouch policy files",
	}
	policy.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Print the policy a repository would be judged by",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			found := err == nil
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("read policy: %w", err)
			}
			p := usecase.ResolvePolicy(string(b), found, logger())
			return writeJSON(cmd.OutOrStdout(), newPolicyView(p))
		},
	})
	return policy
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
