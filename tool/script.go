package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/airbais/conductor/config"
	"github.com/airbais/conductor/errors"
)

// resultsMarker is printed by every tool on success, followed by the
// directory its output landed in.
const resultsMarker = "Results saved to:"

// Result is the crawl-style result envelope: where the output landed,
// which files were produced, and summary metrics extracted from the
// dashboard data file.
type Result struct {
	OutputDirectory string                 `json:"output_directory"`
	Files           map[string]string      `json:"files"`
	Metrics         map[string]interface{} `json:"metrics"`
}

// ScriptTool runs one external analysis script as a subprocess. The
// script blocks for the duration of the analysis; cancellation of ctx
// kills the process.
type ScriptTool struct {
	def    Definition
	root   string
	python string
	logger *zap.SugaredLogger
}

// NewScriptTool creates a tool backed by an external script, resolved
// relative to cfg.Root.
func NewScriptTool(def Definition, cfg config.ToolsConfig, logger *zap.SugaredLogger) *ScriptTool {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	return &ScriptTool{
		def:    def,
		root:   cfg.Root,
		python: python,
		logger: logger,
	}
}

// Name returns the registry name.
func (t *ScriptTool) Name() string { return t.def.Name }

// Description returns the tool description.
func (t *ScriptTool) Description() string { return t.def.Description }

// Parameters returns the tool's parameter contract.
func (t *ScriptTool) Parameters() ParameterSpec {
	return ParameterSpec{
		Required: t.def.RequiredParams,
		Optional: t.def.OptionalParams,
	}
}

// Timeout returns the tool's per-run wall clock limit, or zero when the
// definition does not set one.
func (t *ScriptTool) Timeout() time.Duration {
	return time.Duration(t.def.TimeoutSeconds) * time.Second
}

// ResultEnvelope reports which result shape the tool produces.
func (t *ScriptTool) ResultEnvelope() string {
	return t.def.ResultEnvelope
}

// Validate rejects payloads missing required parameters.
func (t *ScriptTool) Validate(params Params) error {
	return ValidateRequired(t.Parameters(), params)
}

// Execute runs the script with arguments derived from params, locates
// the results directory it produced, and assembles the result payload.
func (t *ScriptTool) Execute(ctx context.Context, params Params) (json.RawMessage, error) {
	toolDir := filepath.Join(t.root, t.def.ModulePath)

	args := t.buildArgs(params)
	cmd := exec.CommandContext(ctx, t.python, append([]string{t.def.Script}, args...)...)
	cmd.Dir = toolDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Infow("Running tool",
		"tool", t.def.Name,
		"command", shellquote.Join(append([]string{t.python, t.def.Script}, args...)...),
		"dir", toolDir,
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(errors.ErrTimeout, "tool %s killed: %v", t.def.Name, ctx.Err())
		}
		return nil, errors.Wrapf(err, "tool %s execution failed: %s", t.def.Name, tail(stderr.String(), 2000))
	}

	resultsDir, err := t.findResultsDir(stdout.String(), toolDir)
	if err != nil {
		return nil, err
	}

	result := t.collectResults(resultsDir)

	if t.def.ResultEnvelope == EnvelopeOverall {
		if overall := t.extractOverall(resultsDir); overall != nil {
			return json.Marshal(map[string]interface{}{
				"output_directory": resultsDir,
				"overall_results":  overall,
			})
		}
	}

	return json.Marshal(result)
}

// buildArgs maps the parameter payload onto a command line per the
// tool's parameter style.
func (t *ScriptTool) buildArgs(params Params) []string {
	var args []string

	switch t.def.ParamStyle {
	case StylePositional:
		// URL is a positional argument (intentcrawler, llmstxtgenerator)
		if url, ok := params["url"]; ok {
			args = append(args, fmt.Sprint(url))
		}
		for _, p := range t.def.OptionalParams {
			args = t.appendParam(args, params, p)
		}

	case StyleConfigFile:
		// Config file is a positional argument (llmevaluator)
		if cfg, ok := params["config"]; ok {
			args = append(args, fmt.Sprint(cfg))
		}
		for _, p := range t.def.OptionalParams {
			args = t.appendParam(args, params, p)
		}

	default: // StyleFlags
		for _, p := range t.def.RequiredParams {
			args = t.appendParam(args, params, p)
		}
		for _, p := range t.def.OptionalParams {
			args = t.appendParam(args, params, p)
		}
	}

	return args
}

// appendParam appends one parameter as a flag. Boolean parameters become
// bare flags, present only when true. The geoevaluator output directory
// flag is spelled --output-dir.
func (t *ScriptTool) appendParam(args []string, params Params, name string) []string {
	v, ok := params[name]
	if !ok {
		return args
	}

	flag := "--" + strings.ReplaceAll(name, "_", "-")
	if name == "output" && t.def.Name == "geoevaluator" {
		flag = "--output-dir"
	}

	if t.isBoolParam(name) {
		if b, ok := v.(bool); ok && b {
			return append(args, flag)
		}
		return args
	}

	return append(args, flag, fmt.Sprint(v))
}

func (t *ScriptTool) isBoolParam(name string) bool {
	for _, b := range t.def.BoolParams {
		if b == name {
			return true
		}
	}
	return false
}

// findResultsDir locates the directory the tool wrote its output to:
// first from the stdout marker, then the newest directory under
// <tool>/results as a fallback.
func (t *ScriptTool) findResultsDir(stdout, toolDir string) (string, error) {
	for _, line := range strings.Split(stdout, "\n") {
		if idx := strings.Index(line, resultsMarker); idx >= 0 {
			dir := strings.TrimSpace(line[idx+len(resultsMarker):])
			if dir != "" {
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(toolDir, dir)
				}
				if _, err := os.Stat(dir); err == nil {
					return dir, nil
				}
			}
		}
	}

	base := filepath.Join(toolDir, "results")
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", errors.Newf("tool %s produced no results directory", t.def.Name)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", errors.Newf("tool %s produced no results directory", t.def.Name)
	}

	// Result directories are timestamped; newest sorts last
	sort.Strings(dirs)
	return filepath.Join(base, dirs[len(dirs)-1]), nil
}

// collectResults assembles the crawl envelope from the configured result
// files present in resultsDir.
func (t *ScriptTool) collectResults(resultsDir string) Result {
	result := Result{
		OutputDirectory: resultsDir,
		Files:           make(map[string]string),
		Metrics:         make(map[string]interface{}),
	}

	for _, fileName := range t.def.ResultFiles {
		path := filepath.Join(resultsDir, fileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		key := strings.NewReplacer(".json", "", ".md", "", ".txt", "", "-", "_").Replace(fileName)
		result.Files[key] = path

		if fileName == "dashboard-data.json" {
			if metrics := extractMetrics(path); metrics != nil {
				result.Metrics = metrics
			}
		}
	}

	return result
}

// extractMetrics pulls summary metrics out of the dashboard data file.
// Best effort; a malformed file just yields no metrics.
func extractMetrics(path string) map[string]interface{} {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var dashboard map[string]interface{}
	if err := json.Unmarshal(data, &dashboard); err != nil {
		return nil
	}

	metrics := make(map[string]interface{})
	if v, ok := dashboard["total_pages_analyzed"]; ok {
		metrics["pages_analyzed"] = v
	}
	if v, ok := dashboard["total_intents"]; ok {
		metrics["intents_discovered"] = v
	}
	if len(metrics) == 0 {
		return nil
	}
	return metrics
}

// extractOverall reads the overall_results block some evaluators emit in
// their dashboard data. Returns nil when absent.
func (t *ScriptTool) extractOverall(resultsDir string) interface{} {
	data, err := os.ReadFile(filepath.Join(resultsDir, "dashboard-data.json"))
	if err != nil {
		return nil
	}

	var dashboard map[string]interface{}
	if err := json.Unmarshal(data, &dashboard); err != nil {
		return nil
	}

	return dashboard["overall_results"]
}

// tail returns at most n trailing bytes of s, for error messages that
// carry subprocess stderr.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// NewRegistryFromConfig builds the production registry: one ScriptTool
// per definition in tools.yaml (or the override file from cfg).
func NewRegistryFromConfig(cfg config.ToolsConfig, logger *zap.SugaredLogger) (*Registry, error) {
	defs, err := LoadDefinitions(cfg.Definitions)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, def := range defs {
		registry.Register(NewScriptTool(def, cfg, logger))
	}
	return registry, nil
}
