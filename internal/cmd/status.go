package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/windrichie/byteplus-autoscaling-alb-qps/internal/interfaces"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live group and policy state",
	Long: `Show every enabled policy next to the live state of its scaling group
and the stored evaluation bookkeeping: last evaluation time, latest QPS,
active cooldowns, circuit and suspension state.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	policies, err := a.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing policies: %w", err)
	}
	if len(policies) == 0 {
		fmt.Println("no enabled policies")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tGROUP\tCURRENT\tMIN/MAX\tLAST QPS\tEVALUATED\tGUARD")
	for _, p := range policies {
		group := "unavailable"
		bounds := "-"
		status, err := a.backend.GroupStatus(ctx, p.CapacityGroupRef)
		if err == nil {
			group = fmt.Sprintf("%d", status.Current)
			bounds = fmt.Sprintf("%d/%d", status.Min, status.Max)
		}

		state, err := a.store.Get(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("reading state for %s: %w", p.Name, err)
		}

		evaluated := "never"
		if !state.LastEvaluatedAt.IsZero() {
			evaluated = fmt.Sprintf("%s ago", now.Sub(state.LastEvaluatedAt).Round(time.Second))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
			p.Name, p.CapacityGroupRef, group, bounds, state.LatestQPS, evaluated, guardSummary(state, now))
	}
	return w.Flush()
}

// guardSummary renders the dominant guard condition, mirroring the
// precedence the evaluator applies.
func guardSummary(state interfaces.TargetState, now time.Time) string {
	switch {
	case state.Suspended:
		return "suspended"
	case state.CircuitOpenUntil.After(now):
		return fmt.Sprintf("circuit open %s", remaining(state.CircuitOpenUntil, now))
	case state.CooldownUntil.After(now):
		return fmt.Sprintf("cooldown %s", remaining(state.CooldownUntil, now))
	case state.ScaleUpCooldownUntil.After(now):
		return fmt.Sprintf("scale-up cooldown %s", remaining(state.ScaleUpCooldownUntil, now))
	case state.ScaleDownCooldownUntil.After(now):
		return fmt.Sprintf("scale-down cooldown %s", remaining(state.ScaleDownCooldownUntil, now))
	default:
		return "clear"
	}
}

func remaining(until, now time.Time) string {
	return until.Sub(now).Round(time.Second).String()
}
