package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var activitiesCmd = &cobra.Command{
	Use:   "activities <policy-name>",
	Short: "Show recent scaling activities for a policy",
	Long: `Show the audit trail of scaling actions recorded for one policy,
newest first. Dry runs and guard-skipped actions appear alongside
executed ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivities,
}

var activitiesLimit int

func init() {
	rootCmd.AddCommand(activitiesCmd)
	activitiesCmd.Flags().IntVarP(&activitiesLimit, "limit", "n", 20, "maximum number of activities to show")
}

func runActivities(cmd *cobra.Command, args []string) error {
	a, ctx, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetPolicyByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("policy %q: %w", args[0], err)
	}

	activities, err := a.store.RecentActivities(ctx, p.ID, activitiesLimit)
	if err != nil {
		return fmt.Errorf("listing activities: %w", err)
	}
	if len(activities) == 0 {
		fmt.Printf("no activities recorded for %q\n", p.Name)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUESTED\tACTION\tDELTA\tDESIRED\tSTATUS\tQPS\tERROR")
	for _, act := range activities {
		fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\t%.1f\t%s\n",
			act.RequestedAt.Local().Format("2006-01-02 15:04:05"),
			act.Action, act.Delta, act.DesiredCapacity, act.Status, act.EvalQPS, act.ErrorMessage)
	}
	return w.Flush()
}
