package cli

import (
	"fmt"
	"strings"

	"github.com/lazypower/reef/internal/store"
	"github.com/spf13/cobra"
)

var (
	createScope   string
	createContent string
	createLinks   []string
	createBless   bool
)

var createCmd = &cobra.Command{
	Use:   "create <kind> <summary>",
	Short: "Create a memory unit",
	Long: "Creates a unit in the drifting state. Kind is one of thread, decision,\n" +
		"constraint, context, or fact and is fixed for the unit's lifetime.",
	Args: cobra.MinimumNArgs(2),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createScope, "scope", store.ScopeProject, "scope: always, project, or session")
	createCmd.Flags().StringVar(&createContent, "content", "", "unit body text")
	createCmd.Flags().StringArrayVar(&createLinks, "link", nil, "id of a related unit (repeatable)")
	createCmd.Flags().BoolVar(&createBless, "bless", false, "mark the unit as explicitly important")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	u := store.Unit{
		Kind:    args[0],
		Scope:   createScope,
		Summary: strings.Join(args[1:], " "),
		Content: createContent,
		Links:   createLinks,
		Blessed: createBless,
	}
	if err := db.CreateUnit(&u); err != nil {
		return err
	}
	if err := db.AppendAudit(&store.AuditEntry{
		Op:         store.AuditOpCreate,
		UnitID:     u.ID,
		Actor:      "human",
		AfterState: u.State,
	}); err != nil {
		return err
	}

	fmt.Printf("created %s [%s/%s] %s\n", u.ID, u.Kind, u.Scope, u.Summary)
	return nil
}
