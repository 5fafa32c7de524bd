// Package genconfig expands a templated catalog definition into the concrete
// audit catalog. Warehouses shard the same logical table across provinces
// and buckets; writing those entries by hand does not scale, so operators
// declare one template plus variable sets and generate the catalog.
package genconfig

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

const moduleName = "genconfig"

// reservedVars are the runtime placeholders the orchestrator resolves per
// run; templates must not redefine them.
var reservedVars = map[string]bool{
	"data_date":  true,
	"data_month": true,
	"data_hour":  true,
}

// VarSpec declares one template variable: either an enum of literal values
// or an inclusive zero-padded integer range.
type VarSpec struct {
	Values []string `mapstructure:"values"`
	Start  *int     `mapstructure:"start"`
	End    *int     `mapstructure:"end"`
	Step   int      `mapstructure:"step"`
	Pad    int      `mapstructure:"pad"`
}

// TemplateEntry is one schedule template. LoopVar names the variables the
// entry expands over, joined with '&' for a cartesian product.
type TemplateEntry struct {
	config.ScheduleConfig `yaml:",inline"`
	LoopVar               string `yaml:"loop_var"`
}

// Spec is the generator input document.
type Spec struct {
	Defaults     config.Defaults        `yaml:"defaults"`
	TemplateVars map[string]interface{} `yaml:"template_vars"`
	Templates    []TemplateEntry        `yaml:"templates"`
}

// Load parses a generator spec from path. The defaults block starts from the
// stock catalog defaults so omitted keys keep their usual values.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to read template file '%s'", path, err)
	}
	spec := Spec{Defaults: config.NewCatalog().Defaults}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "failed to parse template file '%s'", path, err)
	}
	return &spec, nil
}

// Generate expands spec into a validated catalog. Expansion is
// deterministic: templates in order, loop variables in loop_var order with
// the rightmost variable cycling fastest.
func Generate(spec *Spec) (*config.Catalog, error) {
	const op = "genconfig.Generate"
	vars, err := expandVars(spec.TemplateVars)
	if err != nil {
		return nil, err
	}

	// Single-value variables apply everywhere without being looped.
	globals := make(map[string]string)
	for name, values := range vars {
		if len(values) == 1 {
			globals[name] = values[0]
		}
	}

	catalog := config.NewCatalog()
	catalog.Defaults = spec.Defaults
	for i, tmpl := range spec.Templates {
		loopNames, err := loopVarNames(tmpl.LoopVar, vars)
		if err != nil {
			return nil, exception.NewAuditErrorf(moduleName, "%s: templates[%d]", op, i, err)
		}
		lists := make([][]string, 0, len(loopNames))
		for _, name := range loopNames {
			lists = append(lists, vars[name])
		}
		for _, combo := range cartesian(lists) {
			vals := make(map[string]string, len(globals)+len(combo))
			for k, v := range globals {
				vals[k] = v
			}
			for j, name := range loopNames {
				vals[name] = combo[j]
			}
			entry := substituteEntry(tmpl.ScheduleConfig, vals)
			if err := checkLeftovers(entry, vars); err != nil {
				return nil, exception.NewAuditErrorf(moduleName, "%s: templates[%d] ('%s')", op, i, entry.TaskName, err)
			}
			catalog.Schedules = append(catalog.Schedules, entry)
		}
	}

	if err := catalog.Validate(); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: generated catalog is invalid", op, err)
	}
	logger.Infof("%s: generated %d schedule(s) from %d template(s)", op, len(catalog.Schedules), len(spec.Templates))
	return catalog, nil
}

// Write renders the catalog as YAML with a generation header.
func Write(w io.Writer, catalog *config.Catalog, source string) error {
	if _, err := fmt.Fprintf(w, "# Generated by tally-genconfig from %s. Do not edit by hand.\n", source); err != nil {
		return exception.NewAuditErrorf(moduleName, "failed to write catalog header", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(catalog); err != nil {
		return exception.NewAuditErrorf(moduleName, "failed to encode catalog", err)
	}
	return enc.Close()
}

// expandVars decodes and materializes every template variable.
func expandVars(raw map[string]interface{}) (map[string][]string, error) {
	const op = "genconfig.expandVars"
	vars := make(map[string][]string, len(raw))
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if reservedVars[name] {
			return nil, exception.NewAuditErrorf(moduleName, "%s: variable '%s' is reserved for runtime resolution", op, name)
		}
		var vs VarSpec
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &vs,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, exception.NewAuditErrorf(moduleName, "%s: failed to build decoder for variable '%s'", op, name, err)
		}
		if err := decoder.Decode(raw[name]); err != nil {
			return nil, exception.NewAuditErrorf(moduleName, "%s: invalid variable '%s'", op, name, err)
		}
		values, err := materialize(name, vs)
		if err != nil {
			return nil, err
		}
		vars[name] = values
	}
	return vars, nil
}

// materialize turns a VarSpec into its value list.
func materialize(name string, vs VarSpec) ([]string, error) {
	const op = "genconfig.materialize"
	isEnum := len(vs.Values) > 0
	isRange := vs.Start != nil || vs.End != nil
	switch {
	case isEnum && isRange:
		return nil, exception.NewAuditErrorf(moduleName, "%s: variable '%s' mixes values and a range", op, name)
	case isEnum:
		return vs.Values, nil
	case isRange:
		if vs.Start == nil || vs.End == nil {
			return nil, exception.NewAuditErrorf(moduleName, "%s: variable '%s' needs both start and end", op, name)
		}
		step := vs.Step
		if step <= 0 {
			step = 1
		}
		if *vs.End < *vs.Start {
			return nil, exception.NewAuditErrorf(moduleName, "%s: variable '%s' has end before start", op, name)
		}
		var values []string
		for v := *vs.Start; v <= *vs.End; v += step {
			values = append(values, fmt.Sprintf("%0*d", vs.Pad, v))
		}
		return values, nil
	default:
		return nil, exception.NewAuditErrorf(moduleName, "%s: variable '%s' declares neither values nor a range", op, name)
	}
}

// loopVarNames parses the '&'-joined loop declaration and checks every name
// is declared.
func loopVarNames(loopVar string, vars map[string][]string) ([]string, error) {
	if loopVar == "" {
		return nil, nil
	}
	var names []string
	for _, name := range strings.Split(loopVar, "&") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := vars[name]; !ok {
			return nil, fmt.Errorf("loop_var references undeclared variable '%s'", name)
		}
		names = append(names, name)
	}
	return names, nil
}

// cartesian produces every combination of the lists, rightmost fastest.
func cartesian(lists [][]string) [][]string {
	combos := [][]string{{}}
	for _, list := range lists {
		next := make([][]string, 0, len(combos)*len(list))
		for _, c := range combos {
			for _, v := range list {
				combo := make([]string, len(c)+1)
				copy(combo, c)
				combo[len(c)] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// substituteEntry replaces ${var} tokens in every string field of a
// schedule entry, tables included.
func substituteEntry(e config.ScheduleConfig, vals map[string]string) config.ScheduleConfig {
	sub := func(s string) string {
		for k, v := range vals {
			s = strings.ReplaceAll(s, "${"+k+"}", v)
		}
		return s
	}
	out := e
	out.TaskName = sub(e.TaskName)
	out.InterfaceID = sub(e.InterfaceID)
	out.PlatformID = sub(e.PlatformID)
	out.PartnerID = sub(e.PartnerID)
	out.Tables = make([]config.TableConfig, len(e.Tables))
	for i, t := range e.Tables {
		out.Tables[i] = config.TableConfig{
			Name:              sub(t.Name),
			HDFSPath:          sub(t.HDFSPath),
			Format:            t.Format,
			Delimiter:         t.Delimiter,
			Threads:           t.Threads,
			PartitionTemplate: sub(t.PartitionTemplate),
		}
	}
	return out
}

// checkLeftovers rejects ${var} tokens that survived substitution and are
// neither runtime placeholders nor undeclared (typo) names.
func checkLeftovers(e config.ScheduleConfig, vars map[string][]string) error {
	check := func(s, where string) error {
		for _, token := range placeholderTokens(s) {
			if reservedVars[token] {
				continue
			}
			if _, declared := vars[token]; declared {
				return fmt.Errorf("%s references '${%s}' but does not loop over it", where, token)
			}
			return fmt.Errorf("%s references unknown variable '${%s}'", where, token)
		}
		return nil
	}
	if err := check(e.TaskName, "task_name"); err != nil {
		return err
	}
	if err := check(e.InterfaceID, "interface_id"); err != nil {
		return err
	}
	if err := check(e.PlatformID, "platform_id"); err != nil {
		return err
	}
	if err := check(e.PartnerID, "partner_id"); err != nil {
		return err
	}
	for _, t := range e.Tables {
		if err := check(t.Name, "table name"); err != nil {
			return err
		}
		if err := check(t.HDFSPath, "hdfs_path"); err != nil {
			return err
		}
		if err := check(t.PartitionTemplate, "partition_template"); err != nil {
			return err
		}
	}
	return nil
}

// placeholderTokens returns the bare names of ${...} tokens in s.
func placeholderTokens(s string) []string {
	var tokens []string
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			return tokens
		}
		j := strings.Index(s[i:], "}")
		if j < 0 {
			return tokens
		}
		tokens = append(tokens, s[i+2:i+j])
		s = s[i+j+1:]
	}
}
