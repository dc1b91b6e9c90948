package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/labelmint/labelmint/internal/domain"
)

func init() {
	f := taskCreateCmd.Flags()
	f.StringVar(&taskIn.ProjectID, "project", "", "Project id (required)")
	f.StringVar(&taskType, "type", string(domain.TypeImageClassification), "Task type")
	f.StringVar(&taskPriority, "priority", string(domain.PriorityMedium), "Priority: low, medium, high, urgent")
	f.IntVar(&taskIn.LabelsRequired, "labels", 3, "Labels required")
	f.IntVar(&taskIn.ConsensusThreshold, "threshold", 2, "Agreeing labels needed for consensus")
	f.Int64Var(&taskIn.Reward, "reward", 0, "Reward credits split among agreeing workers")
	f.DurationVar(&taskIn.TimeLimit, "time-limit", 10*time.Minute, "Assignment time limit")
	f.BoolVar(&taskIn.IsHoneypot, "honeypot", false, "Create a honeypot with known ground truth")
	f.StringVar(&taskIn.ExpectedLabel, "expected", "", "Ground-truth label for honeypots")
	_ = taskCreateCmd.MarkFlagRequired("project")

	taskAssignCmd.Flags().BoolVar(&assignAuto, "auto", false, "Pick the best eligible worker")

	taskCmd.AddCommand(taskCreateCmd, taskShowCmd, taskAssignCmd)
	rootCmd.AddCommand(taskCmd)
}

var (
	taskIn       domain.Task
	taskType     string
	taskPriority string
	assignAuto   bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create, inspect and assign tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		in := taskIn
		in.Type = domain.TaskType(taskType)
		in.Priority = domain.Priority(taskPriority)
		task, err := d.Engine.CreateTask(cmd.Context(), in)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, task)
		}
		fmt.Printf("Created task %s (%s, %d/%d)\n", task.ID, task.Type, task.ConsensusThreshold, task.LabelsRequired)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show TASK_ID",
	Short: "Show a task and its consensus state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		task, err := d.Engine.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		res, err := d.Engine.GetConsensus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, map[string]interface{}{"task": task, "consensus": res})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\t%s\n", task.ID)
		fmt.Fprintf(w, "PROJECT\t%s\n", task.ProjectID)
		fmt.Fprintf(w, "STATUS\t%s\n", task.Status)
		fmt.Fprintf(w, "ASSIGNED TO\t%s\n", orDash(task.AssignedTo))
		fmt.Fprintf(w, "LABELS\t%d/%d (threshold %d)\n", task.LabelsReceived, task.LabelsRequired, task.ConsensusThreshold)
		fmt.Fprintf(w, "FINAL LABEL\t%s\n", orDash(task.FinalLabel))
		fmt.Fprintf(w, "AGREEMENT\t%d of %d (%.0f%%)\n", res.AgreementCount, res.TotalLabels, res.Confidence*100)
		if res.Conflict {
			fmt.Fprintf(w, "CONFLICT\t%d more reviewer(s) needed\n", res.AdditionalReviewersNeeded)
		}
		return w.Flush()
	},
}

var taskAssignCmd = &cobra.Command{
	Use:   "assign TASK_ID [WORKER_ID]",
	Short: "Assign a pending task to a worker",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Close()

		var task *domain.Task
		switch {
		case assignAuto:
			task, err = d.Engine.AutoAssignTask(cmd.Context(), args[0])
		case len(args) == 2:
			task, err = d.Engine.AssignTask(cmd.Context(), args[0], args[1])
		default:
			return fmt.Errorf("give a WORKER_ID or --auto")
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, task)
		}
		fmt.Printf("Assigned %s to %s until %s\n", task.ID, task.AssignedTo, task.ExpiresAt.Local().Format(time.RFC3339))
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
