package cli

import (
	"fmt"
	"sort"

	"github.com/lazypower/reef/internal/engine"
	"github.com/spf13/cobra"
)

var (
	syncFix    bool
	syncDryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the maintenance pass",
	Long: "Matures unit states, rebuilds the search index, and reports\n" +
		"inconsistencies. With --fix it also repairs links left dangling by\n" +
		"purged units and clears expired quarantine records. With --dry-run\n" +
		"nothing is touched at all.",
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFix, "fix", false, "repair dangling links and purge expired quarantine")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report findings without changing anything")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	guard := engine.NewGuard(db, cfg.Safety, nil)
	opts := engine.SyncOptions{Fix: syncFix, DryRun: syncDryRun}
	rep, err := engine.Sync(db, guard, cfg, opts, "human")
	if err != nil {
		return err
	}

	fmt.Printf("advanced: %d unit(s)\n", rep.Advanced)

	if len(rep.DanglingLinks) > 0 {
		ids := make([]string, 0, len(rep.DanglingLinks))
		for id := range rep.DanglingLinks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("dangling: %s -> %v\n", id, rep.DanglingLinks[id])
		}
	}
	if len(rep.MissingFromIndex) > 0 {
		fmt.Printf("unindexed: %d unit(s)\n", len(rep.MissingFromIndex))
	}
	if rep.ExpiredHeld > 0 {
		fmt.Printf("expired quarantine: %d record(s)\n", rep.ExpiredHeld)
	}

	switch {
	case rep.Fixed:
		fmt.Printf("repaired %d, purged %d, index rebuilt: %v\n", rep.Repaired, rep.ExpiredPurged, rep.IndexRebuilt)
	case syncDryRun:
		fmt.Println("dry run; nothing changed")
	default:
		fmt.Printf("index rebuilt: %v; pass --fix to repair\n", rep.IndexRebuilt)
	}
	return nil
}
