package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent      Agent      `yaml:"agent"`
	Prompts    Prompts    `yaml:"prompts"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Supervisor Supervisor `yaml:"supervisor"`
	Comparison Comparison `yaml:"comparison"`
	Judge      Judge      `yaml:"judge"`
	Workspace  Workspace  `yaml:"workspace"`
	Results    Results    `yaml:"results"`
	Logging    Logging    `yaml:"logging"`
	Docker     Docker     `yaml:"docker"`
	Git        Git        `yaml:"git"`
	Projects   []Project  `yaml:"projects"`
}

// Agent describes how the external coding agent is invoked. Args may contain
// the placeholders {dir}, {model} and {prompt}.
type Agent struct {
	Command      string            `yaml:"command"`
	Model        string            `yaml:"model"`
	Args         []string          `yaml:"args"`
	BareFlag     string            `yaml:"bare_flag"`
	Env          map[string]string `yaml:"env"`
	BenignErrors []string          `yaml:"benign_errors"`
}

type Prompts struct {
	Generate string `yaml:"generate"`
	Config   string `yaml:"config"`
	Optimize string `yaml:"optimize"`
	Review   string `yaml:"review"`
}

// Timeouts are inactivity windows per agent phase, not wall-clock limits.
type Timeouts struct {
	Generate Duration `yaml:"generate"`
	Config   Duration `yaml:"config"`
	Optimize Duration `yaml:"optimize"`
	Review   Duration `yaml:"review"`
}

type Supervisor struct {
	PollInterval       Duration `yaml:"poll_interval"`
	StallThreshold     Duration `yaml:"stall_threshold"`
	StallCheckInterval Duration `yaml:"stall_check_interval"`
	FlushInterval      Duration `yaml:"flush_interval"`
	GracePeriod        Duration `yaml:"grace_period"`
}

// Comparison holds the score-delta thresholds used to pick a verdict.
type Comparison struct {
	SignificantDelta float64 `yaml:"significant_delta"`
	NotableDelta     float64 `yaml:"notable_delta"`
}

type Judge struct {
	Enabled           bool    `yaml:"enabled"`
	URL               string  `yaml:"url"`
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Samples           int     `yaml:"samples"`
	MaxSourceChars    int     `yaml:"max_source_chars"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Workspace struct {
	Dir       string `yaml:"dir"`
	MarkerDir string `yaml:"marker_dir"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Docker controls removal of agent containers left behind by a timed-out
// phase. ContainerName may contain {project} and {variant}.
type Docker struct {
	ReapContainers bool   `yaml:"reap_containers"`
	ContainerName  string `yaml:"container_name"`
}

type Git struct {
	DisableDiff bool `yaml:"disable_diff"`
}

type Project struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
	Complexity string `yaml:"complexity"`
}

// Duration is a time.Duration that reads Go duration strings ("90s", "15m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

const (
	DefaultGeneratePrompt = "Read _benchmark_prompt.md in the current directory and implement the project it describes. Work autonomously until the implementation is complete."
	DefaultConfigPrompt   = "/cco-config --auto"
	DefaultOptimizePrompt = "/cco-optimize --auto"
	DefaultReviewPrompt   = "/cco-review --auto"
)

var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := resolvePromptFiles(&cfg, filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no projects.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Project looks up a project by id.
func (c *Config) Project(id string) (*Project, bool) {
	for i := range c.Projects {
		if c.Projects[i].ID == id {
			return &c.Projects[i], true
		}
	}
	return nil, false
}

func resolvePromptFiles(cfg *Config, baseDir string) error {
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		if p.PromptFile == "" || p.Prompt != "" {
			continue
		}
		path := p.PromptFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("project %q: reading prompt file: %w", p.ID, err)
		}
		p.Prompt = string(data)
	}
	return nil
}

func validate(cfg *Config) error {
	applyDefaults(cfg)
	if len(cfg.Projects) == 0 {
		return fmt.Errorf("no projects defined")
	}
	seen := make(map[string]bool, len(cfg.Projects))
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		if p.ID == "" {
			return fmt.Errorf("project %d: id is required", i)
		}
		if !projectIDPattern.MatchString(p.ID) {
			return fmt.Errorf("project %q: id must match %s", p.ID, projectIDPattern)
		}
		if seen[p.ID] {
			return fmt.Errorf("project %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if p.Prompt == "" {
			return fmt.Errorf("project %q: prompt or prompt_file is required", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
	}
	if cfg.Supervisor.StallThreshold.Std() >= cfg.Timeouts.Generate.Std() {
		return fmt.Errorf("supervisor.stall_threshold must be shorter than timeouts.generate")
	}
	if cfg.Comparison.NotableDelta > cfg.Comparison.SignificantDelta {
		return fmt.Errorf("comparison.notable_delta must not exceed comparison.significant_delta")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "ccbox"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "opus"
	}
	if len(cfg.Agent.Args) == 0 {
		cfg.Agent.Args = []string{
			"--yes",
			"--path", "{dir}",
			"--model", "{model}",
			"--output-format", "stream-json",
			"--prompt", "{prompt}",
		}
	}
	if cfg.Agent.BareFlag == "" {
		cfg.Agent.BareFlag = "--bare"
	}
	if len(cfg.Agent.BenignErrors) == 0 {
		cfg.Agent.BenignErrors = []string{"only prompt commands are supported in streaming mode"}
	}

	if cfg.Prompts.Generate == "" {
		cfg.Prompts.Generate = DefaultGeneratePrompt
	}
	if cfg.Prompts.Config == "" {
		cfg.Prompts.Config = DefaultConfigPrompt
	}
	if cfg.Prompts.Optimize == "" {
		cfg.Prompts.Optimize = DefaultOptimizePrompt
	}
	if cfg.Prompts.Review == "" {
		cfg.Prompts.Review = DefaultReviewPrompt
	}

	defaultDuration(&cfg.Timeouts.Generate, 15*time.Minute)
	defaultDuration(&cfg.Timeouts.Config, 5*time.Minute)
	defaultDuration(&cfg.Timeouts.Optimize, 15*time.Minute)
	defaultDuration(&cfg.Timeouts.Review, 15*time.Minute)

	defaultDuration(&cfg.Supervisor.PollInterval, 500*time.Millisecond)
	defaultDuration(&cfg.Supervisor.StallThreshold, 60*time.Second)
	defaultDuration(&cfg.Supervisor.StallCheckInterval, 30*time.Second)
	defaultDuration(&cfg.Supervisor.FlushInterval, 30*time.Second)
	defaultDuration(&cfg.Supervisor.GracePeriod, 5*time.Second)

	if cfg.Comparison.SignificantDelta == 0 {
		cfg.Comparison.SignificantDelta = 20
	}
	if cfg.Comparison.NotableDelta == 0 {
		cfg.Comparison.NotableDelta = 5
	}

	if cfg.Judge.URL == "" {
		cfg.Judge.URL = "https://api.anthropic.com/v1/messages"
	}
	if cfg.Judge.Model == "" {
		cfg.Judge.Model = "claude-sonnet-4-5"
	}
	if cfg.Judge.APIKeyEnv == "" {
		cfg.Judge.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.Judge.Samples < 1 {
		cfg.Judge.Samples = 3
	}
	if cfg.Judge.MaxSourceChars < 1 {
		cfg.Judge.MaxSourceChars = 100_000
	}
	if cfg.Judge.RequestsPerSecond <= 0 {
		cfg.Judge.RequestsPerSecond = 1
	}

	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "benchmark/projects"
	}
	if cfg.Workspace.MarkerDir == "" {
		cfg.Workspace.MarkerDir = ".claude"
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "benchmark/results"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Docker.ContainerName == "" {
		cfg.Docker.ContainerName = "ccbox-{project}-{variant}"
	}
}

func defaultDuration(d *Duration, fallback time.Duration) {
	if *d <= 0 {
		*d = Duration(fallback)
	}
}
