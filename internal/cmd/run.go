package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every enabled policy once",
	Long: `Run a single evaluation cycle over all enabled policies and print the
per-policy results. Intended for cron-style triggers and for trying out a
policy before starting the loop; "albscaler serve" runs the same cycle on
an interval.`,
	RunE: runRun,
}

var (
	runJSON   bool
	runDryRun bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print results as JSON")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "decide but do not modify any scaling group")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if runDryRun {
		a.batch.ForceDryRun()
	}

	results, err := a.batch.Run(ctx)
	if err != nil {
		return fmt.Errorf("evaluation cycle: %w", err)
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(results)
	return nil
}

func printResults(results []interfaces.EvaluationResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tSTATUS\tACTION\tQPS\tCAPACITY\tDESIRED\tREASON")
	for _, r := range results {
		desired := "-"
		if r.Action != interfaces.ActionNoOp {
			desired = fmt.Sprintf("%d", r.DesiredCapacity)
		}
		reason := r.Reason
		if r.Error != "" {
			reason = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\t%s\t%s\n",
			r.PolicyName, r.Status, r.Action, r.QPS, r.Capacity, desired, reason)
	}
	w.Flush()
}
