package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config captures CLI options sourced from config files or flags.
type Config struct {
	Translator           string   `yaml:"translator" toml:"translator"`
	TranslatorCandidates []string `yaml:"translator_candidates" toml:"translator_candidates"`
	Toolchain            string   `yaml:"toolchain" toml:"toolchain"`
	// ToolchainVersion pins the major.minor version doctor expects.
	ToolchainVersion string `yaml:"toolchain_version" toml:"toolchain_version"`

	Mode            string `yaml:"mode" toml:"mode"`
	RunAfterCompile bool   `yaml:"run_after_compile" toml:"run_after_compile"`
	DebugLexer      bool   `yaml:"debug_lexer" toml:"debug_lexer"`
	// ProgramEnv is a list of KEY=VALUE pairs for the produced program.
	ProgramEnv []string `yaml:"program_env" toml:"program_env"`

	SourceExt            string `yaml:"source_ext" toml:"source_ext"`
	ExamplesDir          string `yaml:"examples_dir" toml:"examples_dir"`
	LogsDir              string `yaml:"logs_dir" toml:"logs_dir"`
	SummaryFile          string `yaml:"summary_file" toml:"summary_file"`
	RequireNumericPrefix bool   `yaml:"require_numeric_prefix" toml:"require_numeric_prefix"`
	WorkspaceRoot        string `yaml:"workspace_root" toml:"workspace_root"`

	Only []string `yaml:"only" toml:"only"`
	Skip []string `yaml:"skip" toml:"skip"`

	Format  string `yaml:"format" toml:"format"`
	Verbose bool   `yaml:"verbose" toml:"verbose"`

	Timeouts TimeoutConfig `yaml:"timeouts" toml:"timeouts"`
	History  HistoryConfig `yaml:"history" toml:"history"`
}

// TimeoutConfig bounds each pipeline stage, in milliseconds.
type TimeoutConfig struct {
	TranslateMS int `yaml:"translate_ms" toml:"translate_ms"`
	CompileMS   int `yaml:"compile_ms" toml:"compile_ms"`
	ExecuteMS   int `yaml:"execute_ms" toml:"execute_ms"`
}

// Translate returns the translate timeout as a duration.
func (t TimeoutConfig) Translate() time.Duration { return ms(t.TranslateMS) }

// Compile returns the compile timeout as a duration.
func (t TimeoutConfig) Compile() time.Duration { return ms(t.CompileMS) }

// Execute returns the execute timeout as a duration.
func (t TimeoutConfig) Execute() time.Duration { return ms(t.ExecuteMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// HistoryConfig controls the batch run store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

const (
	// FormatPretty renders human readable output.
	FormatPretty = "pretty"
	// FormatJSON renders machine readable output.
	FormatJSON = "json"

	// DefaultTranslator is the executable name looked up on PATH when no
	// explicit translator or candidate resolves.
	DefaultTranslator = "arabic-compiler"

	yamlName = ".stagerun.yml"
	tomlName = ".stagerun.toml"
)

// ErrTranslatorNotFound reports that no translator could be resolved.
var ErrTranslatorNotFound = errors.New("translator not found")

// Default returns the baseline configuration used when no flags or config file specify values.
func Default() Config {
	return Config{
		Toolchain:            "gcc",
		Mode:                 "c",
		RunAfterCompile:      true,
		SourceExt:            ".arabic",
		ExamplesDir:          "Examples",
		LogsDir:              "test_logs",
		SummaryFile:          "summary.txt",
		RequireNumericPrefix: true,
		Format:               FormatPretty,
		TranslatorCandidates: []string{
			filepath.Join("build", DefaultTranslator),
			filepath.Join("build", "Release", DefaultTranslator),
			filepath.Join("build", "Debug", DefaultTranslator),
		},
		Timeouts: TimeoutConfig{
			TranslateMS: 10000,
			CompileMS:   15000,
			ExecuteMS:   20000,
		},
		History: HistoryConfig{
			Path: filepath.Join(".stagerun", "history.db"),
		},
	}
}

// Load reads .stagerun.yml or .stagerun.toml from root when present. Missing
// files are ignored.
func Load(root string) (Config, error) {
	for _, name := range []string{yamlName, tomlName} {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Default(), fmt.Errorf("stat config %q: %w", path, err)
		}
		return LoadFile(path)
	}
	return Default(), nil
}

// LoadFile reads an explicit config file; its format follows the extension.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	var unmarshal func([]byte, any) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yml", ".yaml":
		unmarshal = yaml.Unmarshal
	default:
		return cfg, fmt.Errorf("config %q: unsupported format (want .yml, .yaml or .toml)", path)
	}

	var fileCfg Config
	if err := unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	var bools optionalBools
	if err := unmarshal(data, &bools); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	bools.apply(&cfg)
	return cfg, nil
}

func merge(base, override Config) Config {
	out := base

	if override.Translator != "" {
		out.Translator = override.Translator
	}
	if len(override.TranslatorCandidates) > 0 {
		out.TranslatorCandidates = append([]string{}, override.TranslatorCandidates...)
	}
	if override.Toolchain != "" {
		out.Toolchain = override.Toolchain
	}
	if override.ToolchainVersion != "" {
		out.ToolchainVersion = override.ToolchainVersion
	}
	if len(override.ProgramEnv) > 0 {
		out.ProgramEnv = append([]string{}, override.ProgramEnv...)
	}
	if override.Mode != "" {
		out.Mode = override.Mode
	}
	if override.SourceExt != "" {
		out.SourceExt = override.SourceExt
	}
	if override.ExamplesDir != "" {
		out.ExamplesDir = override.ExamplesDir
	}
	if override.LogsDir != "" {
		out.LogsDir = override.LogsDir
	}
	if override.SummaryFile != "" {
		out.SummaryFile = override.SummaryFile
	}
	if override.WorkspaceRoot != "" {
		out.WorkspaceRoot = override.WorkspaceRoot
	}
	if len(override.Only) > 0 {
		out.Only = append([]string{}, override.Only...)
	}
	if len(override.Skip) > 0 {
		out.Skip = append([]string{}, override.Skip...)
	}
	if override.Format != "" {
		out.Format = override.Format
	}
	if override.DebugLexer {
		out.DebugLexer = true
	}
	if override.Verbose {
		out.Verbose = true
	}
	if override.History.Enabled {
		out.History.Enabled = true
	}
	if override.History.Path != "" {
		out.History.Path = override.History.Path
	}

	if override.Timeouts.TranslateMS > 0 {
		out.Timeouts.TranslateMS = override.Timeouts.TranslateMS
	}
	if override.Timeouts.CompileMS > 0 {
		out.Timeouts.CompileMS = override.Timeouts.CompileMS
	}
	if override.Timeouts.ExecuteMS > 0 {
		out.Timeouts.ExecuteMS = override.Timeouts.ExecuteMS
	}

	return out
}

// optionalBools holds booleans that default to true and that a file may turn
// off; an absent key must not reset them.
type optionalBools struct {
	RunAfterCompile      *bool `yaml:"run_after_compile" toml:"run_after_compile"`
	RequireNumericPrefix *bool `yaml:"require_numeric_prefix" toml:"require_numeric_prefix"`
}

func (o optionalBools) apply(cfg *Config) {
	if o.RunAfterCompile != nil {
		cfg.RunAfterCompile = *o.RunAfterCompile
	}
	if o.RequireNumericPrefix != nil {
		cfg.RequireNumericPrefix = *o.RequireNumericPrefix
	}
}

// Validate checks values that are otherwise only detected deep inside a run.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Format) {
	case FormatPretty, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unsupported format %q", c.Format))
	}
	if c.Toolchain == "" {
		errs = append(errs, errors.New("toolchain must not be empty"))
	}
	if !strings.HasPrefix(c.SourceExt, ".") {
		errs = append(errs, fmt.Errorf("source_ext %q must start with a dot", c.SourceExt))
	}
	if c.SummaryFile == "" || filepath.Base(c.SummaryFile) != c.SummaryFile {
		errs = append(errs, fmt.Errorf("summary_file %q must be a plain file name", c.SummaryFile))
	}
	for _, kv := range c.ProgramEnv {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("program_env entry %q must be KEY=VALUE", kv))
		}
	}
	if c.Timeouts.TranslateMS <= 0 || c.Timeouts.CompileMS <= 0 || c.Timeouts.ExecuteMS <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// ResolveTranslator picks the translator executable once: the explicit value
// wins, then the first existing candidate (relative to root), then PATH.
func ResolveTranslator(cfg Config, root string) (string, error) {
	if cfg.Translator != "" {
		// A bare name is left to PATH lookup; anything with a separator is a
		// path relative to root, since stages run in their own directory.
		if strings.ContainsRune(cfg.Translator, '/') || strings.ContainsRune(cfg.Translator, filepath.Separator) {
			if !filepath.IsAbs(cfg.Translator) {
				return filepath.Join(root, cfg.Translator), nil
			}
		}
		return cfg.Translator, nil
	}
	for _, candidate := range cfg.TranslatorCandidates {
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	if path, err := exec.LookPath(DefaultTranslator); err == nil {
		return path, nil
	}
	return DefaultTranslator, fmt.Errorf("%w: tried %s and PATH", ErrTranslatorNotFound, strings.Join(cfg.TranslatorCandidates, ", "))
}

// ApplyFlags mutates cfg by applying values from CLI flags when they are present.
func ApplyFlags(cfg *Config, flags FlagValues) {
	if flags.Translator.Set {
		cfg.Translator = flags.Translator.Value
	}
	if flags.Toolchain.Set {
		cfg.Toolchain = flags.Toolchain.Value
	}
	if flags.Mode.Set {
		cfg.Mode = flags.Mode.Value
	}
	if flags.RunAfterCompile.Set {
		cfg.RunAfterCompile = flags.RunAfterCompile.Value
	}
	if flags.DebugLexer.Set {
		cfg.DebugLexer = flags.DebugLexer.Value
	}
	if flags.ExamplesDir.Set {
		cfg.ExamplesDir = flags.ExamplesDir.Value
	}
	if flags.LogsDir.Set {
		cfg.LogsDir = flags.LogsDir.Value
	}
	if flags.WorkspaceRoot.Set {
		cfg.WorkspaceRoot = flags.WorkspaceRoot.Value
	}
	if len(flags.Only.Values) > 0 {
		cfg.Only = append([]string{}, flags.Only.Values...)
	}
	if len(flags.Skip.Values) > 0 {
		cfg.Skip = append([]string{}, flags.Skip.Values...)
	}
	if flags.Format.Set {
		cfg.Format = flags.Format.Value
	}
	if flags.Verbose.Set {
		cfg.Verbose = flags.Verbose.Value
	}
	if flags.History.Set {
		cfg.History.Enabled = flags.History.Value
	}
	if flags.ExecuteTimeout.Set {
		cfg.Timeouts.ExecuteMS = flags.ExecuteTimeout.Value
	}
}

// FlagValues captures CLI flag state with knowledge of whether each flag was set explicitly.
type FlagValues struct {
	Translator      StringFlag
	Toolchain       StringFlag
	Mode            StringFlag
	RunAfterCompile BoolFlag
	DebugLexer      BoolFlag
	ExamplesDir     StringFlag
	LogsDir         StringFlag
	WorkspaceRoot   StringFlag
	Only            SliceFlag
	Skip            SliceFlag
	Format          StringFlag
	Verbose         BoolFlag
	History         BoolFlag
	ExecuteTimeout  IntFlag
}

// StringFlag represents a string flag and whether it was set.
type StringFlag struct {
	Value string
	Set   bool
}

// SliceFlag represents a slice flag and whether it captured values via CLI.
type SliceFlag struct {
	Values []string
}

// BoolFlag represents a bool flag and whether it was set.
type BoolFlag struct {
	Value bool
	Set   bool
}

// IntFlag represents an int flag and whether it was set.
type IntFlag struct {
	Value int
	Set   bool
}
