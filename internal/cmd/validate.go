package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/config"
	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

var validateCmd = &cobra.Command{
	Use:   "validate [policy-file...]",
	Short: "Validate configuration and policy files",
	Long: `Load the configuration and, for each policy file given, resolve every
policy against the configured defaults and validate it. Nothing is stored.
With --live, each validated policy's scaling group is also looked up
through the AutoScaling API to confirm credentials and group references.`,
	RunE: runValidate,
}

var validateLive bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateLive, "live", false, "also check each policy's scaling group against the cloud API")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	fmt.Println("configuration OK")

	var resolved []interfaces.Policy
	failed := false
	for _, path := range args {
		f, err := config.ParsePolicyFile(path)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		for _, spec := range f.Policies {
			p, err := config.Resolve(cfg.Defaults, cfg.Region, spec)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				failed = true
				continue
			}
			if err := config.ValidatePolicy(p); err != nil {
				fmt.Printf("%s: policy %q: %v\n", path, spec.Name, err)
				failed = true
				continue
			}
			fmt.Printf("%s: policy %q OK\n", path, spec.Name)
			resolved = append(resolved, p)
		}
	}
	if failed {
		return fmt.Errorf("validation failed")
	}
	if !validateLive {
		return nil
	}

	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(resolved) == 0 {
		// No files given: check whatever is already stored.
		resolved, err = a.store.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("listing policies: %w", err)
		}
	}
	for _, p := range resolved {
		status, err := a.backend.GroupStatus(ctx, p.CapacityGroupRef)
		if err != nil {
			fmt.Printf("policy %q: group %s: %v\n", p.Name, p.CapacityGroupRef, err)
			failed = true
			continue
		}
		fmt.Printf("policy %q: group %s reachable (%d instances, bounds %d-%d)\n",
			p.Name, p.CapacityGroupRef, status.Current, status.Min, status.Max)
	}
	if failed {
		return fmt.Errorf("live validation failed")
	}
	return nil
}
