package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	escrow "github.com/tripartite/escrow"
	escrowhttp "github.com/tripartite/escrow/http"
	"github.com/tripartite/escrow/orchestrator"
)

var (
	deployPayer        string
	deployBeneficiary  string
	deployRequirements []string
	idempotencyKey     string
	completeInitial    int
	eventsFromBlock    uint64
)

func init() {
	deployCmd.Flags().StringVar(&deployPayer, "payer", "", "Payer address (defaults to the configured payer identity)")
	deployCmd.Flags().StringVar(&deployBeneficiary, "beneficiary", "", "Beneficiary address (defaults to the configured beneficiary identity)")
	deployCmd.Flags().StringArrayVarP(&deployRequirements, "requirement", "r", nil, "Requirement description, repeat for each checklist item")
	_ = deployCmd.MarkFlagRequired("requirement")

	eventsCmd.Flags().Uint64Var(&eventsFromBlock, "from-block", 0, "First block to include")

	completeCmd.Flags().IntVar(&completeInitial, "initial", 0, "Complete up to N of the first pending requirements without settling")

	for _, cmd := range []*cobra.Command{deployCmd, depositCmd, completeCmd, cancelCmd, withdrawCmd} {
		cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Replay protection key for the submission")
	}
}

func callOptions() []orchestrator.CallOption {
	if idempotencyKey == "" {
		return nil
	}
	return []orchestrator.CallOption{orchestrator.WithIdempotencyKey(idempotencyKey)}
}

// partyAddress resolves a flag value, falling back to a configured identity
func partyAddress(flag, role string, fallback interface{ Address() common.Address }) (common.Address, error) {
	if flag != "" {
		return escrowhttp.ParseAddress(flag)
	}
	if fallback == nil {
		return common.Address{}, fmt.Errorf("--%s is required without a configured %s identity", role, role)
	}
	return fallback.Address(), nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a new agreement as the arbiter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		arbiter, err := identity("arbiter", rt.arbiter)
		if err != nil {
			return err
		}
		var payerFallback, beneficiaryFallback interface{ Address() common.Address }
		if rt.payer != nil {
			payerFallback = rt.payer
		}
		if rt.beneficiary != nil {
			beneficiaryFallback = rt.beneficiary
		}
		payer, err := partyAddress(deployPayer, "payer", payerFallback)
		if err != nil {
			return err
		}
		beneficiary, err := partyAddress(deployBeneficiary, "beneficiary", beneficiaryFallback)
		if err != nil {
			return err
		}

		result, err := rt.orch.Deploy(cmd.Context(), arbiter, payer, beneficiary, deployRequirements, callOptions()...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info ADDRESS",
	Short: "Show an agreement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := escrowhttp.ParseAddress(args[0])
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		view, err := rt.orch.Query().Agreement(cmd.Context(), addr)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events ADDRESS",
	Short: "List the events an agreement emitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := escrowhttp.ParseAddress(args[0])
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		events, err := rt.orch.Query().Events(cmd.Context(), addr, eventsFromBlock)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), events)
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit ADDRESS AMOUNT",
	Short: "Deposit AMOUNT ether into an agreement as the payer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := escrowhttp.ParseAddress(args[0])
		if err != nil {
			return err
		}
		amount, err := escrowhttp.ParseEtherAmount(args[1])
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		payer, err := identity("payer", rt.payer)
		if err != nil {
			return err
		}
		result, err := rt.orch.Deposit(cmd.Context(), payer, addr, amount, callOptions()...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete ADDRESS [INDEX]",
	Short: "Complete a requirement as the arbiter",
	Long:  "Completes the requirement at INDEX. With --initial N, completes up to N of the first pending requirements instead, never the last one.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := escrowhttp.ParseAddress(args[0])
		if err != nil {
			return err
		}
		if (completeInitial > 0) == (len(args) == 2) {
			return fmt.Errorf("give either INDEX or --initial")
		}
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		arbiter, err := identity("arbiter", rt.arbiter)
		if err != nil {
			return err
		}
		if completeInitial > 0 {
			results, err := rt.orch.CompleteInitial(cmd.Context(), arbiter, addr, uint64(completeInitial))
			if len(results) > 0 {
				if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
					return perr
				}
			}
			return err
		}

		index, err := escrowhttp.ParseIndex(args[1])
		if err != nil {
			return err
		}
		result, err := rt.orch.CompleteRequirement(cmd.Context(), arbiter, addr, index, callOptions()...)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ADDRESS",
	Short: "Cancel an agreement as the arbiter, refunding the payer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return arbiterWrite(cmd, args[0], (*orchestrator.Orchestrator).Cancel)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw ADDRESS",
	Short: "Sweep a cancelled agreement's residual balance to its payer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return arbiterWrite(cmd, args[0], (*orchestrator.Orchestrator).EmergencyWithdraw)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance ADDRESS",
	Short: "Show the native balance of an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := escrowhttp.ParseAddress(args[0])
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		bal, err := rt.orch.Query().BalanceOf(cmd.Context(), addr)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"address": addr.Hex(),
			"balance": escrow.FormatEther(bal),
			"wei":     bal.String(),
		})
	},
}

type arbiterOp func(o *orchestrator.Orchestrator, ctx context.Context, id orchestrator.Identity, agreement common.Address, opts ...orchestrator.CallOption) (*escrow.TxResult, error)

// arbiterWrite runs a single-address write signed by the arbiter
func arbiterWrite(cmd *cobra.Command, rawAddr string, op arbiterOp) error {
	addr, err := escrowhttp.ParseAddress(rawAddr)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cmd.Context(), devMode, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.close()

	arbiter, err := identity("arbiter", rt.arbiter)
	if err != nil {
		return err
	}
	result, err := op(rt.orch, cmd.Context(), arbiter, addr, callOptions()...)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
