package phase

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/supervisor"
)

// CommandBuilder turns the agent configuration into the command line for
// one phase. Vanilla generation runs the agent in bare mode; cco phases run
// it with the optimization rules loaded.
type CommandBuilder struct {
	agent    config.Agent
	prompts  config.Prompts
	timeouts config.Timeouts
}

func NewCommandBuilder(agent config.Agent, prompts config.Prompts, timeouts config.Timeouts) *CommandBuilder {
	return &CommandBuilder{agent: agent, prompts: prompts, timeouts: timeouts}
}

func (b *CommandBuilder) Build(name Name, dir string) (supervisor.Command, error) {
	prompt, err := b.prompt(name)
	if err != nil {
		return supervisor.Command{}, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return supervisor.Command{}, fmt.Errorf("resolving %s: %w", dir, err)
	}
	replacer := strings.NewReplacer("{dir}", absDir, "{model}", b.agent.Model, "{prompt}", prompt)

	args := make([]string, 0, len(b.agent.Args)+1)
	for _, a := range b.agent.Args {
		args = append(args, replacer.Replace(a))
	}
	if name == VanillaGeneration && b.agent.BareFlag != "" {
		args = append(args, b.agent.BareFlag)
	}

	keys := make([]string, 0, len(b.agent.Env))
	for k := range b.agent.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+b.agent.Env[k])
	}
	return supervisor.Command{Path: b.agent.Command, Args: args, Env: env}, nil
}

// Timeout returns the inactivity window for an agent phase.
func (b *CommandBuilder) Timeout(name Name) time.Duration {
	switch name {
	case VanillaGeneration:
		return b.timeouts.Generate.Std()
	case CCOConfig:
		return b.timeouts.Config.Std()
	case CCOOptimize:
		return b.timeouts.Optimize.Std()
	case CCOReview:
		return b.timeouts.Review.Std()
	}
	return 0
}

func (b *CommandBuilder) prompt(name Name) (string, error) {
	switch name {
	case VanillaGeneration:
		return b.prompts.Generate, nil
	case CCOConfig:
		return b.prompts.Config, nil
	case CCOOptimize:
		return b.prompts.Optimize, nil
	case CCOReview:
		return b.prompts.Review, nil
	}
	return "", fmt.Errorf("phase %s does not run the agent", name)
}
