package cli

import (
	"fmt"

	"github.com/lazypower/reef/internal/engine"
	"github.com/lazypower/reef/internal/judge"
	"github.com/spf13/cobra"
)

var (
	decayDryRun bool
	decayAuto   bool
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Challenge stale units",
	Long: "Selects decay-eligible units and puts each before a judge. By default\n" +
		"you are the judge; with --auto the configured model provider rules\n" +
		"instead, and any judge failure preserves the unit. Deletions go to\n" +
		"quarantine, and a batch deleting too large a share of the candidates\n" +
		"is halted outright.",
	RunE: runDecay,
}

func init() {
	decayCmd.Flags().BoolVar(&decayDryRun, "dry-run", false, "list candidates without judging or mutating")
	decayCmd.Flags().BoolVar(&decayAuto, "auto", false, "use the configured model judge instead of prompting")
}

func runDecay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	actor := "human"
	judgeCfg := cfg.Judge
	if decayAuto {
		actor = "automatic"
		if judgeCfg.Provider == "human" {
			judgeCfg.Provider = "local-cli"
		}
	} else {
		judgeCfg.Provider = "human"
	}

	var j judge.Judge
	if !decayDryRun {
		router, err := judge.NewRouter(judgeCfg)
		if err != nil {
			return err
		}
		j = router
	}

	guard := engine.NewGuard(db, cfg.Safety, nil)
	c := engine.NewChallenger(db, guard, j, cfg, nil, actor)

	rep, err := c.Run(cmd.Context(), decayDryRun)
	if err != nil {
		return err
	}

	if rep.Considered == 0 {
		fmt.Println("nothing eligible for decay")
		return nil
	}
	for _, out := range rep.Outcomes {
		if out.Rationale != "" {
			fmt.Printf("%-10s %s  (%s)\n", out.Result, out.UnitID, out.Rationale)
		} else {
			fmt.Printf("%-10s %s\n", out.Result, out.UnitID)
		}
	}
	if rep.DryRun {
		fmt.Printf("%d candidate(s); run without --dry-run to judge them\n", rep.Considered)
	}
	return nil
}
