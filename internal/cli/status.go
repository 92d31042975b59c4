package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobingest/internal/models"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show an ingestion record",
	Long: `Show the current state of an ingestion record.

Examples:
  jobingest status 0b6f3c1e-7f0e-4a4c-9d55-0f0f5f7b1a2c
  jobingest status 0b6f3c1e-7f0e-4a4c-9d55-0f0f5f7b1a2c --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw record as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := newClient().GetJob(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(out, "Job %s\n", rec.ID)
	fmt.Fprintf(out, "  URL:     %s\n", rec.SourceURL)
	fmt.Fprintf(out, "  Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	// A failed record is a valid answer to a status query.
	_ = printOutcome(out, rec)
	return nil
}

// printOutcome renders a record's status and, for parsed records, the
// extracted job data. Failed records return errJobFailed.
func printOutcome(w io.Writer, rec *models.IngestionRecord) error {
	fmt.Fprintf(w, "  Status:  %s\n", rec.Status)

	if rec.ErrorMessage != nil {
		fmt.Fprintf(w, "  Error:   %s\n", *rec.ErrorMessage)
	}
	if rec.Status.IsFailure() {
		return errJobFailed
	}

	d := rec.ExtractedData
	if d == nil {
		return nil
	}
	fmt.Fprintln(w)
	field := func(label, v string) {
		if v != "" {
			fmt.Fprintf(w, "  %-16s %s\n", label+":", v)
		}
	}
	field("Company", d.CompanyName)
	field("Position", d.Position)
	field("Employment", d.EmploymentType)
	field("Remote policy", d.RemotePolicy)
	field("Logo", d.CompanyLogoURL)
	field("Technologies", strings.Join(d.Technologies, ", "))
	if d.Description != "" {
		fmt.Fprintf(w, "\n%s\n", d.Description)
	}
	return nil
}
