package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobingest/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Strip an HTML document down to its content",
	Long: `Run the HTML normalizer on a file, or on stdin when no file is given,
and print the cleaned HTML.

Examples:
  jobingest normalize page.html
  curl -s https://example.com/jobs/42 | jobingest normalize`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNormalize,
}

func runNormalize(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), normalize.Normalize(string(raw)))
	return nil
}
