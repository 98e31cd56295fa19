package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldops-portal/internal/bulk"
	"fieldops-portal/internal/models"
)

// BulkCmd returns the bulk command group: preview, then execute after
// confirmation.
func BulkCmd() *cobra.Command {
	var (
		entity string
		ids    []string
		reason string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "bulk <approve|reject|cancel|complete|resolve>",
		Short: "Run a bulk operation with a dry-run preview first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return fmt.Errorf("--ids is required")
			}
			req := bulk.Request{
				Entity: models.EntityType(entity),
				Action: bulk.Action(args[0]),
				IDs:    ids,
				Reason: reason,
			}
			client := NewClient()

			var preview bulk.Preview
			if err := client.Post("/bulk/preview", req, &preview); err != nil {
				return err
			}
			fmt.Println(preview.Summary)
			for _, item := range preview.Invalid {
				fmt.Printf("  %s %s: %s\n", color.RedString("skip"), item.ID, item.Error)
			}
			if len(preview.Valid) == 0 {
				fmt.Println("nothing to do")
				return nil
			}

			if !yes && !confirm(fmt.Sprintf("Apply %s to %d item(s)?", args[0], len(preview.Valid))) {
				fmt.Println("aborted")
				return nil
			}

			var result bulk.Result
			if err := client.Post("/bulk/execute", req, &result); err != nil {
				return err
			}
			fmt.Printf("operation %s: %s succeeded, %s failed\n",
				result.OperationID,
				color.GreenString("%d", len(result.Succeeded)),
				color.RedString("%d", len(result.Failed)))
			for _, item := range result.Failed {
				fmt.Printf("  %s %s: %s\n", color.RedString("fail"), item.ID, item.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entity, "entity", string(models.EntityJob), "Entity type: job, work_order, or incident_report")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Comma-separated entity ids")
	cmd.Flags().StringVar(&reason, "reason", "", "Shared reason (required for reject and cancel)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "y" || answer == "yes"
}
