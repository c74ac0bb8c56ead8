package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/lexcore/internal/core/ports/driving"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Record and verify generation audit entries",
	Long: `The audit log is append-only: entries record which model produced
which output from which retrieval run, with a hash that "audit verify"
checks later.`,
}

var auditAppendCmd = &cobra.Command{
	Use:   "append [event]",
	Short: "Append an audit entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditAppend,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [entry-id]",
	Short: "Verify a stored entry's output hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	RunE:  runAuditList,
}

var (
	auditModel     string
	auditPack      string
	auditRunID     string
	auditParams    string
	auditOutput    string
	auditListLimit int
)

func init() {
	auditAppendCmd.Flags().StringVar(&auditModel, "model", "", "model identifier")
	auditAppendCmd.Flags().StringVar(&auditPack, "pack-version", "", "content pack version")
	auditAppendCmd.Flags().StringVar(&auditRunID, "run", "", "retrieval run ID the output was grounded on")
	auditAppendCmd.Flags().StringVar(&auditParams, "params", "{}", "generation parameters as JSON")
	auditAppendCmd.Flags().StringVar(&auditOutput, "output", "", "generated output as JSON (required)")
	auditListCmd.Flags().IntVarP(&auditListLimit, "limit", "n", 20, "maximum entries to list")

	auditCmd.AddCommand(auditAppendCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditAppend(cmd *cobra.Command, args []string) error {
	if auditService == nil {
		return errors.New("audit service not configured")
	}
	if auditOutput == "" {
		return errors.New("--output is required")
	}

	var params, output any
	if err := json.Unmarshal([]byte(auditParams), &params); err != nil {
		return fmt.Errorf("--params is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(auditOutput), &output); err != nil {
		return fmt.Errorf("--output is not valid JSON: %w", err)
	}

	id, err := auditService.Append(context.Background(), driving.AuditRequest{
		Event:          args[0],
		Model:          auditModel,
		PackVersion:    auditPack,
		RetrievalRunID: auditRunID,
		Params:         params,
		Output:         output,
	})
	if err != nil {
		return fmt.Errorf("audit append failed: %w", err)
	}

	cmd.Printf("Recorded audit entry %d\n", id)
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	if auditService == nil {
		return errors.New("audit service not configured")
	}

	var id int64
	if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
		return fmt.Errorf("bad entry ID %q", args[0])
	}

	ok, err := auditService.Verify(context.Background(), id)
	if err != nil {
		return fmt.Errorf("audit verify failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("entry %d: output does not match its recorded hash", id)
	}

	cmd.Printf("Entry %d verified\n", id)
	return nil
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	if auditService == nil {
		return errors.New("audit service not configured")
	}

	entries, err := auditService.List(context.Background(), auditListLimit)
	if err != nil {
		return fmt.Errorf("list audit entries: %w", err)
	}

	if len(entries) == 0 {
		cmd.Println("No audit entries recorded.")
		return nil
	}

	for _, e := range entries {
		cmd.Printf("  [%d] %s  %s", e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Event)
		if e.Model != "" {
			cmd.Printf("  model=%s", e.Model)
		}
		if e.RetrievalRunID != "" {
			cmd.Printf("  run=%s", e.RetrievalRunID)
		}
		cmd.Println()
	}
	return nil
}
