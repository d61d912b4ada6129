package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/codefionn/bfrelay/internal/audit"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	auditLimit int
	auditDB    string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent sessions from the audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := auditDB
		if path == "" {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.AuditDBPath
		}
		if path == "" {
			return fmt.Errorf("no audit database configured, set audit_db_path or pass --db")
		}

		store, err := audit.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}

		return writeAuditTable(cmd.OutOrStdout(), entries)
	},
}

func init() {
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of sessions to show")
	auditCmd.Flags().StringVar(&auditDB, "db", "", "Audit database path (overrides config)")
}

// writeAuditTable lists entries one per line. The coloured LEFT value is the
// last column, so its escape codes never count toward a column width.
func writeAuditTable(w io.Writer, entries []audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tADDRESS\tJOINED\tREASON\tLEFT")
	for _, e := range entries {
		left := color.GreenString("connected")
		if !e.Open() {
			left = e.LeftAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Session, e.Address, e.JoinedAt.Local().Format(time.DateTime), e.Reason, left)
	}
	return tw.Flush()
}
