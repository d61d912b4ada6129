package main

import (
	"fmt"
	"io"

	"github.com/codefionn/bfrelay/internal/pidfile"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a relay is running",
	Long:  "Report whether the relay named by pid_file is running.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.PIDFile == "" {
			return fmt.Errorf("no pid_file configured")
		}

		reportStatus(cmd.OutOrStdout(), pidfile.New(cfg.PIDFile), cfg.Address())
		return nil
	},
}

// reportStatus prints one line describing pf.
func reportStatus(w io.Writer, pf *pidfile.Pidfile, addr string) {
	if pid, ok := pf.Running(); ok {
		fmt.Fprintf(w, "%s pid %d, listening on %s\n", color.GreenString("running"), pid, addr)
		return
	}
	if pf.Exists() {
		fmt.Fprintf(w, "%s (stale pid file %s)\n", color.YellowString("not running"), pf.Path())
		return
	}
	fmt.Fprintln(w, color.YellowString("not running"))
}
