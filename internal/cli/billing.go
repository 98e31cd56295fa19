package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldops-portal/internal/models"
)

// InvoicesCmd returns the invoices command group.
func InvoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Create and manage client invoices",
	}
	cmd.AddCommand(invoiceCreateCmd())
	cmd.AddCommand(invoiceShowCmd())
	cmd.AddCommand(invoiceSimpleActionCmd("send", "Issue a draft invoice and lock its jobs"))
	cmd.AddCommand(invoiceSimpleActionCmd("pay", "Mark a sent invoice paid"))
	cmd.AddCommand(invoiceVoidCmd())
	cmd.AddCommand(invoiceAttachJobCmd())
	cmd.AddCommand(invoiceContractsCmd())
	return cmd
}

func invoiceCreateCmd() *cobra.Command {
	var clientID, month string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a draft invoice for a client month",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				return fmt.Errorf("--client is required")
			}
			start, err := time.Parse("2006-01", month)
			if err != nil {
				return fmt.Errorf("--month must look like 2026-08: %w", err)
			}
			var inv models.Invoice
			err = NewClient().Post("/invoices", map[string]any{
				"client_id":    clientID,
				"period_start": start,
				"period_end":   start.AddDate(0, 1, 0),
			}, &inv)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (%s)\n", color.GreenString("created:"), inv.InvoiceNumber, inv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "Client id")
	cmd.Flags().StringVar(&month, "month", time.Now().UTC().Format("2006-01"), "Billing month (YYYY-MM)")
	return cmd
}

func invoiceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <invoice-id>",
		Short: "Show an invoice with lines and adjustments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc struct {
				Invoice     models.Invoice            `json:"invoice"`
				Lines       []models.InvoiceLineItem  `json:"lines"`
				Adjustments []models.BillingAdjustment `json:"adjustments"`
			}
			if err := NewClient().Get("/invoices/"+args[0], &doc); err != nil {
				return err
			}

			inv := doc.Invoice
			fmt.Printf("%s  [%s]  client=%s  period=%s\n",
				inv.InvoiceNumber, inv.Status, inv.ClientID, inv.PeriodStart.Format("2006-01"))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, l := range doc.Lines {
				fmt.Fprintf(w, "  line\t%s\t%s\n", l.Description, formatCents(l.AmountCents))
			}
			for _, a := range doc.Adjustments {
				amount := a.AmountCents
				if a.Kind != models.AdjustmentCharge {
					amount = -amount
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\n", a.Kind, a.Description, formatCents(amount))
			}
			fmt.Fprintf(w, "  subtotal\t\t%s\n", formatCents(inv.SubtotalCents))
			fmt.Fprintf(w, "  tax\t\t%s\n", formatCents(inv.TaxCents))
			fmt.Fprintf(w, "  total\t\t%s\n", formatCents(inv.TotalCents))
			return w.Flush()
		},
	}
}

func invoiceSimpleActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <invoice-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewClient().Post("/invoices/"+args[0]+"/"+action, map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("ok:"), args[0])
			return nil
		},
	}
}

func invoiceVoidCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "void <invoice-id>",
		Short: "Void an invoice and release its jobs for re-billing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewClient().Post("/invoices/"+args[0]+"/void", map[string]any{"reason": reason}, nil); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("voided:"), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the audit trail")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func invoiceAttachJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach-job <invoice-id> <job-id>",
		Short: "Pull an approved job's charge onto a draft invoice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := NewClient().Post("/invoices/"+args[0]+"/job-lines", map[string]any{"job_id": args[1]}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s job %s on invoice %s\n", color.GreenString("attached:"), args[1], args[0])
			return nil
		},
	}
}

func invoiceContractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach-contracts <invoice-id>",
		Short: "Add lines for every contract active in the invoice period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Added int `json:"added"`
			}
			if err := NewClient().Post("/invoices/"+args[0]+"/contract-lines", map[string]any{}, &out); err != nil {
				return err
			}
			fmt.Printf("%s %d contract line(s)\n", color.GreenString("added:"), out.Added)
			return nil
		},
	}
}

// PayoutsCmd returns the payout-batch command group.
func PayoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Calculate and settle payout batches",
	}
	cmd.AddCommand(payoutCreateCmd())
	cmd.AddCommand(payoutShowCmd())
	cmd.AddCommand(payoutActionCmd("approve", "Approve a calculated batch"))
	cmd.AddCommand(payoutActionCmd("release", "Release an approved batch for payment"))
	cmd.AddCommand(payoutActionCmd("pay", "Settle a released batch and pay its jobs"))
	return cmd
}

func payoutCreateCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Calculate a payout batch over a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("--from must look like 2026-08-01: %w", err)
			}
			end, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("--to must look like 2026-08-31: %w", err)
			}
			var out struct {
				Batch models.PayoutBatch  `json:"batch"`
				Lines []models.PayoutLine `json:"lines"`
			}
			err = NewClient().Post("/payout-batches", map[string]any{
				"period_start": start,
				"period_end":   end,
			}, &out)
			if err != nil {
				return err
			}
			fmt.Printf("%s batch %s with %d line(s), total %s\n",
				color.GreenString("calculated:"), out.Batch.ID, len(out.Lines), formatCents(out.Batch.TotalCents))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Period end, exclusive (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func payoutShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a payout batch with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Batch models.PayoutBatch  `json:"batch"`
				Lines []models.PayoutLine `json:"lines"`
			}
			if err := NewClient().Get("/payout-batches/"+args[0], &out); err != nil {
				return err
			}
			fmt.Printf("batch %s [%s] total=%s\n", out.Batch.ID, out.Batch.Status, formatCents(out.Batch.TotalCents))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tACCOUNT\tAMOUNT")
			for _, l := range out.Lines {
				fmt.Fprintf(w, "%s\t%s\t%s\n", l.JobID, l.WorkforceAccountID, formatCents(l.AmountCents))
			}
			return w.Flush()
		},
	}
}

func payoutActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <batch-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewClient().Post("/payout-batches/"+args[0]+"/"+action, map[string]any{}, nil); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.GreenString("ok:"), args[0])
			return nil
		},
	}
}
