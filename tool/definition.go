package tool

import (
	_ "embed"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/airbais/conductor/errors"
)

// Parameter styles control how a payload maps onto a tool's command line.
const (
	// StyleFlags passes every parameter as --key value (default).
	StyleFlags = "flags"
	// StylePositional passes the url parameter as a positional argument,
	// remaining optional parameters as flags.
	StylePositional = "positional"
	// StyleConfigFile passes the config parameter as a positional
	// argument; boolean optional parameters become bare flags.
	StyleConfigFile = "config_file"
)

// Envelope names for the two result shapes the tools produce.
const (
	// EnvelopeCrawl: {output_directory, files, metrics}
	EnvelopeCrawl = "crawl"
	// EnvelopeOverall: {overall_results: {...}}
	EnvelopeOverall = "overall"
)

// Definition describes one script-backed tool: where it lives, how its
// parameters map onto a command line, and which result files it produces.
type Definition struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	ModulePath     string   `yaml:"module_path"`
	Script         string   `yaml:"script"`
	ParamStyle     string   `yaml:"param_style"`
	RequiredParams []string `yaml:"required_params"`
	OptionalParams []string `yaml:"optional_params"`
	BoolParams     []string `yaml:"bool_params"`
	ResultFiles    []string `yaml:"result_files"`
	ResultEnvelope string   `yaml:"result_envelope"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// definitionsFile is the on-disk shape of tools.yaml.
type definitionsFile struct {
	Tools map[string]Definition `yaml:"tools"`
	// Listing order of tools; map keys alone would be unordered.
	Order []string `yaml:"order"`
}

//go:embed tools.yaml
var embeddedDefinitions []byte

// LoadDefinitions parses tool definitions from path, or from the embedded
// tools.yaml when path is empty. Returns definitions in listing order.
func LoadDefinitions(path string) ([]Definition, error) {
	data := embeddedDefinitions
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read tool definitions %s", path)
		}
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse tool definitions")
	}

	order := file.Order
	if len(order) == 0 {
		for name := range file.Tools {
			order = append(order, name)
		}
	}

	defs := make([]Definition, 0, len(order))
	for _, name := range order {
		def, ok := file.Tools[name]
		if !ok {
			return nil, errors.Newf("tool %q listed in order but not defined", name)
		}
		if def.Name == "" {
			def.Name = name
		}
		if def.ParamStyle == "" {
			def.ParamStyle = StyleFlags
		}
		if def.ResultEnvelope == "" {
			def.ResultEnvelope = EnvelopeCrawl
		}
		defs = append(defs, def)
	}
	return defs, nil
}
