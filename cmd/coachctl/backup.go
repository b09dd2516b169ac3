package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	exportOutput string
	importInput  string
	importClear  bool
	importYes    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export participants, day content and site configuration to JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		outputPath := exportOutput
		if outputPath == "" {
			outputPath = fmt.Sprintf("backup_%s.json", time.Now().Format("20060102_150405"))
		}
		if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outputPath, err)
		}
		defer f.Close()

		data, err := a.backup.Export(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d participants and %d days to %s\n", len(data.Records), len(data.Days), outputPath)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a JSON backup",
	Long: `Import a JSON backup produced by "coachctl export".

Records are restored with their version and timestamps. With --clear every
existing participant is deleted first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(importInput)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", importInput, err)
		}
		defer f.Close()

		if importClear && !importYes {
			ok, err := confirm(cmd, "WARNING: This will delete all existing participants. Type 'yes' to confirm: ")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Import cancelled")
				return nil
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.backup.Import(cmd.Context(), f, importClear)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d participants and %d days\n", stats.Records, stats.Days)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default backup_YYYYMMDD_HHMMSS.json)")

	importCmd.Flags().StringVarP(&importInput, "input", "i", "", "backup file to import")
	importCmd.Flags().BoolVar(&importClear, "clear", false, "delete existing participants before importing")
	importCmd.Flags().BoolVarP(&importYes, "yes", "y", false, "skip the confirmation prompt")
	_ = importCmd.MarkFlagRequired("input")
}

// confirm asks on stderr and reads the answer from the command's input
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	return strings.TrimSpace(line) == "yes", nil
}
