package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"
)

// Definition is a user template loaded from YAML. Content is a text/template
// evaluated against Context, e.g. "Bye {{.Message.From}}".
type Definition struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Content  string         `yaml:"content"`
	Metadata map[string]any `yaml:"metadata"`
	Options  map[string]any `yaml:"options"`
}

// Compile parses the definition's content into a Template.
func (d Definition) Compile() (Template, error) {
	tmpl, err := texttemplate.New(d.Name).Option("missingkey=zero").Parse(d.Content)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", d.Name, err)
	}
	return func(c Context) Payload {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, c); err != nil {
			// keep whatever rendered before the failure
			sb.WriteString(" [template error: " + err.Error() + "]")
		}
		return Payload{
			Content:  sb.String(),
			Type:     d.Type,
			Metadata: cloneMap(d.Metadata),
			Options:  cloneMap(d.Options),
		}
	}, nil
}

// LoadDir registers every .yaml/.yml template definition found in dir and
// returns how many were registered. A missing directory is not an error;
// unreadable or invalid files are skipped with a warning.
func (r *Registry) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		r.logger.Debug("templates directory does not exist, skipping", "dir", dir)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read templates dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("cannot read template file", "path", path, "err", err)
			continue
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			r.logger.Warn("cannot parse template file", "path", path, "err", err)
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		t, err := def.Compile()
		if err != nil {
			r.logger.Warn("invalid template", "path", path, "err", err)
			continue
		}

		r.Register(def.Name, t)
		r.logger.Info("loaded template", "name", def.Name, "path", path)
		loaded++
	}
	return loaded, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
