package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Projects:")
			for _, p := range cfg.Projects {
				complexity := ""
				if p.Complexity != "" {
					complexity = " [" + p.Complexity + "]"
				}
				fmt.Fprintf(out, "  - %s (%s)%s: %s\n", p.ID, p.Name, complexity, firstLine(p.Prompt, 72))
			}
			fmt.Fprintf(out, "\nAgent: %s (model %s)\n", cfg.Agent.Command, cfg.Agent.Model)
			return nil
		},
	}
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "# ")
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
