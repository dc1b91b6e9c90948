package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/labelmint/labelmint/internal/app/engine"
	"github.com/labelmint/labelmint/internal/domain"
)

func init() {
	workerAddCmd.Flags().Float64Var(&workerRep, "reputation", 50, "Starting reputation (0-100)")
	workerAddCmd.Flags().Float64Var(&workerAcc, "accuracy", 0.5, "Starting accuracy (0-1)")
	workerCmd.AddCommand(workerAddCmd)

	projectCmd.AddCommand(projectFundCmd)

	sweepCmd.Flags().BoolVar(&sweepReassign, "reassign", false, "Reassign every task that expired")

	rootCmd.AddCommand(workerCmd, projectCmd, statsCmd, sweepCmd)
}

var (
	workerRep     float64
	workerAcc     float64
	sweepReassign bool
)

// ─── Workers & Projects ─────────────────────────────────────────────────────

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers",
}

var workerAddCmd = &cobra.Command{
	Use:   "add WORKER_ID",
	Short: "Register a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		w, err := d.Engine.RegisterWorker(cmd.Context(), domain.Worker{ID: args[0], Reputation: workerRep, Accuracy: workerAcc})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, w)
		}
		fmt.Printf("Registered worker %s (reputation %.1f)\n", w.ID, w.Reputation)
		return nil
	},
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage project budgets",
}

var projectFundCmd = &cobra.Command{
	Use:   "fund PROJECT_ID AMOUNT",
	Short: "Add reward credits to a project budget",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Ledger.FundProject(cmd.Context(), args[0], amount); err != nil {
			return err
		}
		budget, err := d.Ledger.ProjectBudget(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Funded %s with %d credits (remaining %d)\n", args[0], amount, budget.Remaining)
		return nil
	},
}

// ─── Statistics ─────────────────────────────────────────────────────────────

var statsCmd = &cobra.Command{
	Use:   "stats [worker WORKER_ID | project PROJECT_ID]",
	Short: "Show task, worker or project statistics",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()
		ctx := cmd.Context()

		if len(args) == 0 {
			stats, err := d.Engine.GetTaskStatistics(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, stats)
			}
			return printStatusCounts(stats.ByStatus, stats.Total)
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: stats worker WORKER_ID | stats project PROJECT_ID")
		}

		switch args[0] {
		case "worker":
			m, err := d.Engine.GetWorkerMetrics(ctx, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, m)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "WORKER\t%s\n", m.WorkerID)
			fmt.Fprintf(w, "REPUTATION\t%.1f\n", m.Reputation)
			fmt.Fprintf(w, "ACCURACY\t%.3f\n", m.Accuracy)
			fmt.Fprintf(w, "TASKS\t%d completed / %d labeled\n", m.CompletedTasks, m.TotalTasks)
			fmt.Fprintf(w, "AVG TIME\t%s\n", m.AverageTimePerTask)
			fmt.Fprintf(w, "EARNINGS\t%d\n", m.Earnings)
			return w.Flush()
		case "project":
			ps, err := d.Engine.GetProjectStatistics(ctx, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, ps)
			}
			fmt.Printf("Project %s: funded %d, spent %d, remaining %d\n",
				ps.ProjectID, ps.Budget.Funded, ps.Budget.Spent, ps.Budget.Remaining)
			return printStatusCounts(ps.ByStatus, ps.TotalTasks)
		default:
			return fmt.Errorf("unknown stats target %q", args[0])
		}
	},
}

func printStatusCounts(byStatus map[domain.TaskStatus]int, total int) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tTASKS")
	for _, s := range domain.AllTaskStatuses {
		fmt.Fprintf(w, "%s\t%d\n", s, byStatus[s])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue assignments once",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		report := engine.Sweep(cmd.Context(), d.Engine, sweepReassign)
		if jsonOutput {
			return printJSON(os.Stdout, report)
		}
		fmt.Printf("Expired %d, reassigned %d, left pending %d, errors %d\n",
			report.Expired, report.Reassigned, report.Unassigned, report.Errors)
		return nil
	},
}
