package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/jobingest/internal/models"
)

var (
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <url>",
	Short: "Request ingestion of a job posting",
	Long: `Request ingestion of a job posting URL and print the record id.

Submitting a URL that was already requested returns the existing record.
With --wait the command follows the record until it is parsed or fails.
If neither happens within --timeout the command gives up; the server
keeps working on the record and 'jobingest status <id>' shows the outcome.

Examples:
  jobingest ingest https://example.com/careers/backend-engineer
  jobingest ingest https://example.com/jobs/42 --wait
  jobingest ingest https://example.com/jobs/42 --wait --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "follow the record until it finishes")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 0, "how long --wait follows the record (default from config, 60s)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c := newClient()
	id, err := c.CreateJob(ctx, args[0])
	if err != nil {
		return err
	}

	if !ingestWait {
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}

	timeout := ingestTimeout
	if timeout <= 0 {
		timeout = cfg.WaitTimeout
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(ctx, c, id, args[0], timeout)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s\n", id)
	final, err := c.Wait(ctx, id, timeout, func(rec models.IngestionRecord) {
		fmt.Fprintf(out, "  %s\n", rec.Status)
	})
	if err != nil {
		return err
	}
	return printOutcome(out, final)
}

// errJobFailed is returned after printing a record that ended in a failure state.
var errJobFailed = errors.New("job failed")
