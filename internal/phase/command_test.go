package phase_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/ccobench/internal/config"
	"github.com/signalnine/ccobench/internal/phase"
)

func TestCommandBuilder(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.Env = map[string]string{"B": "2", "A": "1"}
	b := phase.NewCommandBuilder(cfg.Agent, cfg.Prompts, cfg.Timeouts)
	dir := t.TempDir()

	gen, err := b.Build(phase.VanillaGeneration, dir)
	require.NoError(t, err)
	assert.Equal(t, "ccbox", gen.Path)
	assert.Equal(t, []string{
		"--yes",
		"--path", dir,
		"--model", "opus",
		"--output-format", "stream-json",
		"--prompt", config.DefaultGeneratePrompt,
		"--bare",
	}, gen.Args)
	assert.Equal(t, []string{"A=1", "B=2"}, gen.Env)

	opt, err := b.Build(phase.CCOOptimize, dir)
	require.NoError(t, err)
	assert.Contains(t, opt.Args, config.DefaultOptimizePrompt)
	assert.NotContains(t, opt.Args, "--bare")

	_, err = b.Build(phase.CCODerive, dir)
	assert.Error(t, err)
}

func TestCommandBuilderRelativeDir(t *testing.T) {
	cfg := config.Default()
	cmd, err := phase.NewCommandBuilder(cfg.Agent, cfg.Prompts, cfg.Timeouts).Build(phase.CCOConfig, "projects/x/cco")
	require.NoError(t, err)
	abs, _ := filepath.Abs("projects/x/cco")
	assert.Contains(t, cmd.Args, abs)
}

func TestCommandBuilderTimeouts(t *testing.T) {
	cfg := config.Default()
	b := phase.NewCommandBuilder(cfg.Agent, cfg.Prompts, cfg.Timeouts)
	assert.Equal(t, 15*time.Minute, b.Timeout(phase.VanillaGeneration))
	assert.Equal(t, 5*time.Minute, b.Timeout(phase.CCOConfig))
	assert.Zero(t, b.Timeout(phase.CCOAnalysis))
}
