// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper.io/dataplane/internal/command"
	"gatekeeper.io/dataplane/internal/gk"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Install a policy decision into the running daemon",
	Long: `Send a POLICY_ADD decision to the gatekeeper daemon for a single flow.

The daemon hashes the flow with the same RSS function the NIC uses and
routes the decision to the GK worker that owns it.`,
	Run: func(cmd *cobra.Command, args []string) {
		runPolicyAddCommand()
	},
}

var (
	policyFamily   string
	policySrc      string
	policyDst      string
	policyState    string
	policyTxRate   uint64
	policyCapSec   uint64
	policyNextMS   uint64
	policyStepMS   uint64
	policyDeclSecs uint64
)

func init() {
	policyCmd.Flags().StringVar(&policyFamily, "family", "ipv4", "address family: ipv4 or ipv6")
	policyCmd.Flags().StringVar(&policySrc, "src", "", "flow source address (required)")
	policyCmd.Flags().StringVar(&policyDst, "dst", "", "flow destination address (required)")
	policyCmd.Flags().StringVar(&policyState, "state", "", "decision: granted or declined (required)")
	policyCmd.Flags().Uint64Var(&policyTxRate, "tx-rate-kbsec", 0, "granted: transmit rate in KB/s")
	policyCmd.Flags().Uint64Var(&policyCapSec, "cap-expire-sec", 0, "granted: capability expiry, seconds from now")
	policyCmd.Flags().Uint64Var(&policyNextMS, "next-renewal-ms", 0, "granted: first renewal marker, ms from now")
	policyCmd.Flags().Uint64Var(&policyStepMS, "renewal-step-ms", 0, "granted: renewal marker period, ms")
	policyCmd.Flags().Uint64Var(&policyDeclSecs, "expire-sec", 0, "declined: expiry, seconds from now")
	policyCmd.MarkFlagRequired("src")
	policyCmd.MarkFlagRequired("dst")
	policyCmd.MarkFlagRequired("state")
}

func runPolicyAddCommand() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	params, err := buildPolicyAddParams()
	if err != nil {
		exitWithError("invalid policy parameters", err)
	}

	resp, err := client.PolicyAdd(ctx, params)
	if err != nil {
		exitWithError("failed to send policy", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("policy.add failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Policy queued: %+v\n", resp.Result)
}

func buildPolicyAddParams() (command.PolicyAddParams, error) {
	src, err := netip.ParseAddr(policySrc)
	if err != nil {
		return command.PolicyAddParams{}, fmt.Errorf("src: %w", err)
	}
	dst, err := netip.ParseAddr(policyDst)
	if err != nil {
		return command.PolicyAddParams{}, fmt.Errorf("dst: %w", err)
	}

	return command.PolicyAddParams{
		Flow:  command.NewFlowKeyParams(policyFamily, src, dst),
		State: policyState,
		Grant: gk.GrantParams{
			TxRateKBSec:   policyTxRate,
			CapExpireSec:  policyCapSec,
			NextRenewalMS: policyNextMS,
			RenewalStepMS: policyStepMS,
		},
		Decline: gk.DeclineParams{ExpireSec: policyDeclSecs},
	}, nil
}
