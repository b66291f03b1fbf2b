package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/phase"
	"github.com/signalnine/ccobench/internal/resume"
	"github.com/signalnine/ccobench/internal/workspace"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [project]",
		Short: "Show which phases a resumed run would skip",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			projects := cfg.Projects
			if len(args) == 1 {
				p, ok := cfg.Project(args[0])
				if !ok {
					return fmt.Errorf("unknown project %q", args[0])
				}
				projects = []config.Project{*p}
			}
			layout := workspace.New(cfg.Workspace.Dir, cfg.Results.Dir, cfg.Workspace.MarkerDir)
			resolver := resume.NewResolver(layout, logger)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROJECT\tGENERATED\tANALYZED\tDERIVED\tCONFIGURED\tRESUMES AT")
			for _, p := range projects {
				s := resolver.Resolve(p.ID)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ID,
					mark(s.VanillaGenerated), mark(s.VanillaAnalyzed), mark(s.CCODerived), mark(s.CCOConfigured),
					resumePhase(s))
			}
			return tw.Flush()
		},
	}
}

func mark(done bool) string {
	if done {
		return "yes"
	}
	return "no"
}

func resumePhase(s resume.State) phase.Name {
	return phase.Order[s.ResumeFromPhase()]
}
