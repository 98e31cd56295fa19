package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldops-portal/internal/models"
)

// JobsCmd returns the jobs command group.
func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and act on scheduled jobs",
	}
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobActionCmd("approve", "Approve a job pending review"))
	cmd.AddCommand(jobActionCmd("reject", "Reject a submitted job back to the worker"))
	cmd.AddCommand(jobActionCmd("cancel", "Cancel a scheduled or pending job"))
	cmd.AddCommand(jobAuditCmd())
	return cmd
}

func jobsListCmd() *cobra.Command {
	var status, clientID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status or client",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/jobs?"
			if status != "" {
				path += "status=" + strings.ToUpper(status) + "&"
			}
			if clientID != "" {
				path += "client_id=" + clientID
			}

			var jobs []models.Job
			if err := NewClient().Get(strings.TrimRight(path, "?&"), &jobs); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSITE\tSTATUS\tSCHEDULED\tBILLABLE\tFLAGS")
			for _, j := range jobs {
				flags := []string{}
				if j.IsMissed {
					flags = append(flags, "missed")
				}
				if j.ApprovalOverdue {
					flags = append(flags, "overdue")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.SiteID, colorJobStatus(j.Status),
					j.ScheduledStart.Format("2006-01-02 15:04"),
					formatCents(j.BillableAmountCents),
					strings.Join(flags, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&clientID, "client", "", "Filter by client id")
	return cmd
}

func jobActionCmd(action, short string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if reason != "" {
				body["reason"] = reason
			}
			if err := NewClient().Post("/jobs/"+args[0]+"/"+action, body, nil); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("ok:"), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the audit trail")
	return cmd
}

func jobAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <job-id>",
		Short: "Show a job's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []models.AuditEntry
			if err := NewClient().Get("/jobs/"+args[0]+"/audit", &entries); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tACTOR\tFROM\tTO")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.ActorUserID, e.FromState, e.ToState)
			}
			return w.Flush()
		},
	}
}

func colorJobStatus(s models.JobStatus) string {
	switch s {
	case models.JobScheduled:
		return color.CyanString(string(s))
	case models.JobPendingApproval:
		return color.YellowString(string(s))
	case models.JobApprovedPayable, models.JobPaid:
		return color.GreenString(string(s))
	case models.JobCancelled:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
