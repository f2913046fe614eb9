package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/lazypower/reef/internal/engine"
	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show store vital signs",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print the report as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := engine.HealthSnapshot(db, nil)
	if err != nil {
		return err
	}

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}

	fmt.Printf("schema v%d, %d unit(s), %d quarantined\n", h.SchemaVersion, h.Total, h.Quarantined)
	states := make([]string, 0, len(h.ByState))
	for state := range h.ByState {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Printf("  %-11s %d\n", state, h.ByState[state])
	}
	fmt.Printf("decay rate (7d): %.1f%%\n", h.DecayRate7d*100)
	if h.PendingWrites > 0 {
		fmt.Printf("index: %d write(s) pending rebuild\n", h.PendingWrites)
	}
	return nil
}
