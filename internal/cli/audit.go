package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var auditSince time.Duration

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only entries newer than this (e.g. 24h)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var since int64
	if auditSince > 0 {
		since = time.Now().Add(-auditSince).UnixMilli()
	}
	entries, err := db.ListAudit(since)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("no audit entries")
		return nil
	}
	for _, e := range entries {
		ts := time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04:05")
		line := fmt.Sprintf("%s  %-10s %-9s %s", ts, e.Op, e.Actor, e.UnitID)
		if e.BeforeState != "" || e.AfterState != "" {
			line += fmt.Sprintf("  %s -> %s", e.BeforeState, e.AfterState)
		}
		if e.Reason != "" {
			line += "  (" + e.Reason + ")"
		}
		fmt.Println(line)
	}
	return nil
}
