package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/types"
)

// pathResolver turns a payload into an absolute file path below basePath.
// Discriminators select templates case-insensitively; configuration keys
// arrive lowercased from viper.
type pathResolver struct {
	basePath         string
	discriminatorKey string
	defaultPath      rules.Template
	paths            map[string]rules.Template
}

func newPathResolver(cfg Config) (*pathResolver, error) {
	base, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("archive base_path: %w", err)
	}

	def, err := rules.ParseTemplate(cfg.DefaultPath)
	if err != nil {
		return nil, fmt.Errorf("archive default_path: %w", err)
	}

	r := &pathResolver{
		basePath:         base,
		discriminatorKey: cfg.DiscriminatorKey,
		defaultPath:      def,
		paths:            make(map[string]rules.Template, len(cfg.Paths)),
	}
	for key, raw := range cfg.Paths {
		tmpl, err := rules.ParseTemplate(raw)
		if err != nil {
			return nil, fmt.Errorf("archive path %q: %w", key, err)
		}
		r.paths[strings.ToLower(key)] = tmpl
	}
	return r, nil
}

// resolve selects the template for payload's discriminator and renders it.
// When a placeholder of the selected template does not resolve, the default
// path is used and missing lists the unresolved spans.
func (r *pathResolver) resolve(payload types.Value) (path string, missing []string, err error) {
	scopes := rules.ObjectScopes(payload)

	tmpl := r.defaultPath
	selected := false
	if d, ok := payload.Get(r.discriminatorKey); ok {
		if name, ok := d.AsString(); ok {
			if t, ok := r.paths[strings.ToLower(name)]; ok {
				tmpl, selected = t, true
			}
		}
	}

	rendered, gaps := tmpl.Render(scopes)
	if len(gaps) > 0 && selected {
		missing = gaps
		rendered, gaps = r.defaultPath.Render(scopes)
	}
	if len(gaps) > 0 {
		return "", missing, fmt.Errorf("%w: %s", ErrUnresolvedPath, strings.Join(gaps, ", "))
	}

	path, err = r.join(rendered.String())
	return path, missing, err
}

// join anchors rel below basePath and rejects anything that escapes it.
func (r *pathResolver) join(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnresolvedPath)
	}
	full := filepath.Join(r.basePath, filepath.FromSlash(rel))
	inside, err := filepath.Rel(r.basePath, full)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideBase, rel)
	}
	return full, nil
}
