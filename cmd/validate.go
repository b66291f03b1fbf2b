package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and the environment before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			check := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Fprintf(out, "  FAIL %s: %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "  ok   %s\n", name)
			}

			fmt.Fprintf(out, "Config %s: %d projects\n", cfgFile, len(cfg.Projects))
			_, err = exec.LookPath(cfg.Agent.Command)
			check("agent command "+cfg.Agent.Command, err)
			check("workspace dir", os.MkdirAll(cfg.Workspace.Dir, 0o755))
			check("results dir", os.MkdirAll(cfg.Results.Dir, 0o755))
			if cfg.Judge.Enabled {
				var keyErr error
				if os.Getenv(cfg.Judge.APIKeyEnv) == "" {
					keyErr = fmt.Errorf("%s is not set", cfg.Judge.APIKeyEnv)
				}
				check("judge api key", keyErr)
			}
			if !cfg.Git.DisableDiff {
				_, err := exec.LookPath("git")
				check("git", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}
