package space

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a user supplied sweep, read from a YAML file:
//
//	name: spmm
//	args: [format, "{size}", "{sparsity}", "{opt}"]
//	seed: 7
//	params:
//	  - name: size
//	    values: ["1024", "2048"]
//	  - name: sparsity
//	    values: ["0.5", "0.9"]
//	  - name: opt
//	    values: ["0", "1"]
//	metrics:
//	  - {match: runtime, name: runtime}
//	required: [runtime]
//
// Placeholders in args are replaced by the parameter of the same name,
// {seed} by seed+repetition and {rep} by the repetition index.
type Definition struct {
	Name     string   `yaml:"name"`
	Args     []string `yaml:"args"`
	Seed     int64    `yaml:"seed"`
	Params   []Param  `yaml:"params"`
	Metrics  []Metric `yaml:"metrics"`
	Required []string `yaml:"required"`
}

// Param is one dimension of a Definition.
type Param struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

// Metric maps a substring of an output label to a metric name.
type Metric struct {
	Match string `yaml:"match"`
	Name  string `yaml:"name"`
}

// LoadDefinition decodes and validates a YAML sweep definition.
func LoadDefinition(r io.Reader) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode sweep definition: %w", err)
	}

	if err := def.validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadDefinitionFile reads a sweep definition from path.
func LoadDefinitionFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sweep definition: %w", err)
	}
	defer f.Close()

	def, err := LoadDefinition(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("sweep definition: name is required")
	}

	if len(d.Args) == 0 {
		return fmt.Errorf("sweep %s: args are required", d.Name)
	}

	if len(d.Params) == 0 {
		return fmt.Errorf("sweep %s: at least one param is required", d.Name)
	}

	if len(d.Metrics) == 0 {
		return fmt.Errorf("sweep %s: at least one metric is required", d.Name)
	}

	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		switch {
		case p.Name == "":
			return fmt.Errorf("sweep %s: param without name", d.Name)
		case p.Name == "seed" || p.Name == "rep":
			return fmt.Errorf("sweep %s: param name %q is reserved", d.Name, p.Name)
		case seen[p.Name]:
			return fmt.Errorf("sweep %s: duplicate param %q", d.Name, p.Name)
		case len(p.Values) == 0:
			return fmt.Errorf("sweep %s: param %q has no values", d.Name, p.Name)
		}
		seen[p.Name] = true
	}

	for _, a := range d.Args {
		for _, name := range placeholders(a) {
			if !seen[name] && name != "seed" && name != "rep" {
				return fmt.Errorf(
					"sweep %s: arg %q references unknown param %q",
					d.Name, a, name,
				)
			}
		}
	}

	for _, m := range d.Metrics {
		if m.Match == "" || m.Name == "" {
			return fmt.Errorf("sweep %s: metric needs match and name", d.Name)
		}
	}

	return nil
}

// ParamNames returns the parameter names in declaration order.
func (d *Definition) ParamNames() []string {
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
	}

	return names
}

// Configs expands the definition into its cartesian product.
func (d *Definition) Configs() []Config {
	dims := make([][]string, len(d.Params))
	for i, p := range d.Params {
		dims[i] = p.Values
	}

	return Dedup(Product(dims...))
}

// Expand substitutes cfg and the repetition index into the args template.
func (d *Definition) Expand(cfg Config, rep int) []string {
	vals := make(map[string]string, len(d.Params)+2)
	for i, p := range d.Params {
		if i < len(cfg) {
			vals[p.Name] = cfg[i]
		}
	}

	vals["seed"] = strconv.FormatInt(d.Seed+int64(rep), 10)
	vals["rep"] = strconv.Itoa(rep)

	out := make([]string, len(d.Args))
	for i, a := range d.Args {
		for _, name := range placeholders(a) {
			a = strings.ReplaceAll(a, "{"+name+"}", vals[name])
		}
		out[i] = a
	}

	return out
}

func placeholders(s string) []string {
	var names []string

	for {
		start := strings.IndexByte(s, '{')
		if start < 0 {
			return names
		}

		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return names
		}

		names = append(names, s[start+1:start+end])
		s = s[start+end+1:]
	}
}
