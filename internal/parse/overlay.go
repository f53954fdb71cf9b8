package parse

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

// OverlayNone disables the layout overlay.
const OverlayNone = "none"

// ErrUnknownOverlay is returned for an overlay name that is not embedded.
var ErrUnknownOverlay = errors.New("unknown overlay")

//go:embed overlays/*.yaml
var overlayFS embed.FS

// RuleSet is the YAML form of a layout overlay.
type RuleSet struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Detect      string     `yaml:"detect"`
	Rules       []RuleSpec `yaml:"rules"`
}

// RuleSpec is one overlay rule. Patterns are matched case-insensitively.
type RuleSpec struct {
	Field     string   `yaml:"field"`
	Pattern   string   `yaml:"pattern"`
	DocTypes  []string `yaml:"doc_types,omitempty"`
	Normalize string   `yaml:"normalize,omitempty"`
}

// Overlay is a compiled rule set for one structured export layout.
type Overlay struct {
	Name   string
	detect *regexp.Regexp
	rules  []rule
}

// Matches reports whether text looks like this layout.
func (o *Overlay) Matches(text string) bool {
	return o.detect.MatchString(text)
}

// Fields lists the fields the overlay can produce.
func (o *Overlay) Fields() []entity.FieldName {
	seen := make(map[entity.FieldName]struct{})
	var out []entity.FieldName
	for _, r := range o.rules {
		if _, ok := seen[r.field]; !ok {
			seen[r.field] = struct{}{}
			out = append(out, r.field)
		}
	}
	return out
}

type normalizer struct {
	normalize func(string) string
	accept    func(string) bool
}

var normalizers = map[string]normalizer{
	"":        {},
	"id":      {normalize: trimID, accept: hasDigit},
	"decimal": {normalize: decimal},
	"range":   {normalize: thicknessRange},
	"upper":   {normalize: upperCodes},
	"label":   {normalize: func(s string) string { return collapse(cutAtLabel(s)) }, accept: notLabel},
}

// EmbeddedOverlays returns the names of the built-in rule sets.
func EmbeddedOverlays() []string {
	entries, err := fs.ReadDir(overlayFS, "overlays")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names
}

// LoadOverlay resolves the configured overlay. A file path wins over a
// name; an empty name or "none" returns nil.
func LoadOverlay(name, file string) (*Overlay, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read overlay file: %w", err)
		}
		return ParseOverlay(data)
	}
	if name == "" || name == OverlayNone {
		return nil, nil
	}
	data, err := overlayFS.ReadFile("overlays/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownOverlay, name, strings.Join(EmbeddedOverlays(), ", "))
	}
	return ParseOverlay(data)
}

// ParseOverlay validates a YAML rule set against the overlay schema and compiles it.
func ParseOverlay(data []byte) (*Overlay, error) {
	if err := validateRuleSet(data); err != nil {
		return nil, err
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}

	detect, err := regexp.Compile(`(?i)` + rs.Detect)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: detect: %w", rs.Name, err)
	}

	o := &Overlay{Name: rs.Name, detect: detect}
	for i, spec := range rs.Rules {
		re, err := regexp.Compile(`(?i)` + spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("overlay %s: rule %d (%s): %w", rs.Name, i, spec.Field, err)
		}
		n := normalizers[spec.Normalize]
		r := rule{
			field:     entity.FieldName(spec.Field),
			re:        re,
			normalize: n.normalize,
			accept:    n.accept,
		}
		for _, dt := range spec.DocTypes {
			t, _ := constants.ParseDocType(dt)
			r.docTypes = append(r.docTypes, t)
		}
		o.rules = append(o.rules, r)
	}
	return o, nil
}

var (
	overlaySchemaOnce sync.Once
	overlaySchema     *jsonschema.Schema
	overlaySchemaErr  error
)

func compiledOverlaySchema() (*jsonschema.Schema, error) {
	overlaySchemaOnce.Do(func() {
		b, err := json.Marshal(buildOverlayJSONSchema())
		if err != nil {
			overlaySchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("overlay.json", bytes.NewReader(b)); err != nil {
			overlaySchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		overlaySchema, overlaySchemaErr = compiler.Compile("overlay.json")
	})
	return overlaySchema, overlaySchemaErr
}

// validateRuleSet checks the YAML document against the overlay schema. The
// document goes through JSON so the validator sees JSON-native types.
func validateRuleSet(data []byte) error {
	schema, err := compiledOverlaySchema()
	if err != nil {
		return fmt.Errorf("compile overlay schema: %w", err)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode overlay: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("overlay is not a JSON-compatible document: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal overlay: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("overlay does not match schema: %w", err)
	}
	return nil
}

// buildOverlayJSONSchema returns the rule set schema as a generic map.
func buildOverlayJSONSchema() map[string]any {
	fields := make([]string, 0, len(entity.FieldNames))
	for _, f := range entity.FieldNames {
		fields = append(fields, string(f))
	}
	docTypes := make([]string, 0, len(constants.DocTypePriority))
	for _, dt := range constants.DocTypePriority {
		docTypes = append(docTypes, string(dt))
	}
	norms := make([]string, 0, len(normalizers))
	for k := range normalizers {
		norms = append(norms, k)
	}
	sort.Strings(norms)

	ruleProps := map[string]any{
		"field":   map[string]any{"type": "string", "enum": fields},
		"pattern": map[string]any{"type": "string", "minLength": 1},
		"doc_types": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string", "enum": docTypes},
			"uniqueItems": true,
		},
		"normalize": map[string]any{"type": "string", "enum": norms},
	}

	return map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"name", "detect", "rules"},
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "pattern": `^[a-z0-9_-]+$`},
			"description": map[string]any{"type": "string"},
			"detect":      map[string]any{"type": "string", "minLength": 1},
			"rules": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"field", "pattern"},
					"properties":           ruleProps,
				},
			},
		},
	}
}
