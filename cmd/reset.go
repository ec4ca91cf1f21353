package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelens/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetHistory bool
	resetFiles   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored state (analysis history, saved captures)",
	Long: `Clears the analysis history table and the captures saved under the output directory.
By default both are cleared. Only files written by facelens are removed; anything else in the
output directory is left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !resetHistory && !resetFiles {
			resetHistory, resetFiles = true, true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetHistory {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping history.")
			} else if confirm(reader, os.Stdout, "⚠️  Drop the analysis history table?") {
				fmt.Println("🗑️  Clearing analysis history...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Delete saved captures in %s?", Cfg.OutputDir)) {
				n, err := clearCaptures(Cfg.OutputDir)
				if err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to clear %s: %v\n", Cfg.OutputDir, err)
				}
				fmt.Printf("🗑️  Removed %d saved capture(s).\n", n)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Clear the PostgreSQL analysis history")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear saved captures")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// isCapture reports whether name looks like a file written by capture or analyze.
func isCapture(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	switch {
	case strings.HasPrefix(name, "webcam_") && ext == ".png":
		return true
	case strings.HasSuffix(base, "_annotated") && (ext == ".png" || ext == ".svg"):
		return true
	}
	return false
}

// clearCaptures deletes the captures in dir and then dir itself if nothing else is left.
// A missing dir is not an error.
func clearCaptures(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() || !isCapture(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	// Fails harmlessly when other files remain.
	os.Remove(dir)
	return removed, errors.Join(errs...)
}
