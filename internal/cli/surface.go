package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/lazypower/reef/internal/engine"
	"github.com/spf13/cobra"
)

var (
	surfaceBudget int
	surfaceTier   int
	surfaceExpand []string
	surfaceFresh  bool
	surfaceJSON   bool
)

var surfaceCmd = &cobra.Command{
	Use:   "surface [query]",
	Short: "Retrieve the most relevant units",
	Long: "Ranks units against the query and prints up to the budget. Every\n" +
		"surfaced unit counts as an access, which feeds the lifecycle scoring.\n" +
		"Without a query, the freshest material surfaces.",
	RunE: runSurface,
}

func init() {
	surfaceCmd.Flags().IntVar(&surfaceBudget, "budget", engine.DefaultBudget, "maximum units to return")
	surfaceCmd.Flags().IntVar(&surfaceTier, "tier", engine.TierSummary, "detail tier: 1 summaries, 2 content, 3 linked neighbors")
	surfaceCmd.Flags().StringArrayVar(&surfaceExpand, "expand", nil, "restrict tier-2 content to this unit id (repeatable)")
	surfaceCmd.Flags().BoolVar(&surfaceFresh, "fresh", false, "rebuild the index before searching")
	surfaceCmd.Flags().BoolVar(&surfaceJSON, "json", false, "print results as JSON")
}

func runSurface(cmd *cobra.Command, args []string) error {
	if surfaceTier < engine.TierSummary || surfaceTier > engine.TierLinked {
		return fmt.Errorf("tier must be 1, 2, or 3")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	s := engine.NewSurfacer(db, cfg, nil)
	results, err := s.Surface(engine.SurfaceQuery{
		Text:   strings.Join(args, " "),
		Budget: surfaceBudget,
		Tier:   surfaceTier,
		Expand: surfaceExpand,
		Fresh:  surfaceFresh,
	})
	if err != nil {
		return err
	}

	if surfaceJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("nothing surfaced")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%.2f  %s [%s/%s/%s] %s\n", r.Score, r.ID, r.Kind, r.Scope, r.State, r.Summary)
		if r.Content != "" {
			fmt.Printf("      %s\n", strings.ReplaceAll(r.Content, "\n", "\n      "))
		}
		for _, l := range r.Linked {
			fmt.Printf("      -> %s %s\n", l.ID, l.Summary)
		}
	}
	return nil
}
