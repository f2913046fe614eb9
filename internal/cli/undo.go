package cli

import (
	"fmt"

	"github.com/lazypower/reef/internal/engine"
	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo <unit-id>",
	Short: "Restore a unit from quarantine",
	Long: "Brings a deleted unit back exactly as it was. Only works inside the\n" +
		"quarantine window; after that the deletion is final.",
	Args: cobra.ExactArgs(1),
	RunE: runUndo,
}

func runUndo(cmd *cobra.Command, args []string) error {
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
	u, err := guard.Restore(args[0], "human")
	if err != nil {
		return err
	}

	fmt.Printf("restored %s [%s/%s] %s\n", u.ID, u.Kind, u.State, u.Summary)
	return nil
}
