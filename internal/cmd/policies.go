package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/config"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Manage scaling policies",
	Long:  `Commands for applying, listing, enabling, and suspending scaling policies.`,
}

var policiesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update policies from a file",
	Long: `Apply a YAML policy file. Each policy is resolved against the configured
defaults, validated, and upserted by name: existing policies with the same
name are updated in place and keep their state and activity history.`,
	RunE: runPoliciesApply,
}

var policiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored policies",
	RunE:  runPoliciesList,
}

var policiesEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoliciesEnable,
}

var policiesDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a policy",
	Long: `Disable a policy so the evaluator skips it entirely. Unlike suspend,
a disabled policy is not listed by the batch at all and records no state.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoliciesDisable,
}

var policiesSuspendCmd = &cobra.Command{
	Use:   "suspend <name>",
	Short: "Suspend a policy's scaling actions",
	Long: `Suspend a policy. The evaluator still lists it and records evaluation
times, but every action is refused until "policies resume". Suspension
overrides cooldowns and the circuit breaker and never expires on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: runPoliciesSuspend,
}

var policiesResumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Lift a policy's suspension",
	Args:  cobra.ExactArgs(1),
	RunE:  runPoliciesResume,
}

var policiesApplyFile string

func init() {
	rootCmd.AddCommand(policiesCmd)
	policiesCmd.AddCommand(policiesApplyCmd)
	policiesCmd.AddCommand(policiesListCmd)
	policiesCmd.AddCommand(policiesEnableCmd)
	policiesCmd.AddCommand(policiesDisableCmd)
	policiesCmd.AddCommand(policiesSuspendCmd)
	policiesCmd.AddCommand(policiesResumeCmd)

	policiesApplyCmd.Flags().StringVarP(&policiesApplyFile, "file", "f", "", "policy file to apply (required)")
	policiesApplyCmd.MarkFlagRequired("file")
}

func runPoliciesApply(cmd *cobra.Command, args []string) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := config.ParsePolicyFile(policiesApplyFile)
	if err != nil {
		return err
	}

	for _, spec := range f.Policies {
		p, err := config.Resolve(a.cfg.Defaults, a.cfg.Region, spec)
		if err != nil {
			return err
		}
		if err := config.ValidatePolicy(p); err != nil {
			return fmt.Errorf("policy %q: %w", spec.Name, err)
		}
		id, err := a.store.UpsertPolicy(ctx, p)
		if err != nil {
			return fmt.Errorf("storing policy %q: %w", spec.Name, err)
		}
		fmt.Printf("applied policy %q (id %d)\n", p.Name, id)
	}
	return nil
}

func runPoliciesList(cmd *cobra.Command, args []string) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	policies, err := a.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing policies: %w", err)
	}
	if len(policies) == 0 {
		fmt.Println("no policies stored; use \"albscaler policies apply -f <file>\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tSOURCE\tGROUP\tTARGET QPS\tENABLED\tDRY RUN")
	for _, p := range policies {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%t\t%t\n",
			p.Name, p.Mode, p.LoadSourceRef, p.CapacityGroupRef, p.TargetQPSPerInstance, p.Enabled, p.DryRun)
	}
	return w.Flush()
}

func runPoliciesEnable(cmd *cobra.Command, args []string) error {
	return setEnabled(cmd, args[0], true)
}

func runPoliciesDisable(cmd *cobra.Command, args []string) error {
	return setEnabled(cmd, args[0], false)
}

func setEnabled(cmd *cobra.Command, name string, enabled bool) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.SetPolicyEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("policy %q: %w", name, err)
	}
	if enabled {
		fmt.Printf("policy %q enabled\n", name)
	} else {
		fmt.Printf("policy %q disabled\n", name)
	}
	return nil
}

func runPoliciesSuspend(cmd *cobra.Command, args []string) error {
	return setSuspended(cmd, args[0], true)
}

func runPoliciesResume(cmd *cobra.Command, args []string) error {
	return setSuspended(cmd, args[0], false)
}

func setSuspended(cmd *cobra.Command, name string, suspended bool) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetPolicyByName(ctx, name)
	if err != nil {
		return fmt.Errorf("policy %q: %w", name, err)
	}
	if err := a.store.SetSuspended(ctx, p.ID, suspended); err != nil {
		return fmt.Errorf("policy %q: %w", name, err)
	}
	if suspended {
		fmt.Printf("policy %q suspended\n", name)
	} else {
		fmt.Printf("policy %q resumed\n", name)
	}
	return nil
}
