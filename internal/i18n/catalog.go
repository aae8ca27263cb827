// Package i18n renders user-facing text from YAML catalogs keyed by dotted
// paths such as "notifications.reminder_message".
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed locales/*.yaml
var builtin embed.FS

const DefaultLanguage = "en"

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	def   string
	langs map[string]map[string]string
}

// New loads the built-in catalogs. Files in dir (lang.yaml) override keys of
// the built-in language with the same name, or add a language.
func New(defaultLang, dir string) (*Catalog, error) {
	c := &Catalog{def: normLang(defaultLang), langs: map[string]map[string]string{}}
	if c.def == "" {
		c.def = DefaultLanguage
	}
	if err := c.loadFS(builtin, "locales"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) != "" {
		if err := c.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("i18n: %s: %w", dir, err)
		}
	}
	if _, ok := c.langs[c.def]; !ok {
		return nil, fmt.Errorf("i18n: default language %q has no catalog", c.def)
	}
	return c, nil
}

// MustBuiltin returns the embedded catalogs; it only fails on a broken build.
func MustBuiltin() *Catalog {
	c, err := New(DefaultLanguage, "")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) loadFS(fsys fs.FS, root string) error {
	names, err := fs.Glob(fsys, path.Join(root, "*.yaml"))
	if err != nil {
		return err
	}
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("i18n: %s: %w", name, err)
		}
		lang := normLang(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
		dst := c.langs[lang]
		if dst == nil {
			dst = map[string]string{}
			c.langs[lang] = dst
		}
		flatten("", doc, dst)
	}
	return nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case map[string]any:
			flatten(key, x, out)
		case string:
			out[key] = x
		case nil:
		default:
			out[key] = fmt.Sprint(x)
		}
	}
}

func normLang(l string) string { return strings.ToLower(strings.TrimSpace(l)) }

// Languages lists the loaded language codes.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.langs))
	for l := range c.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Supported(lang string) bool {
	_, ok := c.langs[normLang(lang)]
	return ok
}

func (c *Catalog) Default() string { return c.def }

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Text resolves key in lang, then in the default language, then falls back to
// the key itself. {name} placeholders are filled from args; if any
// placeholder has no value the template is returned unformatted.
func (c *Catalog) Text(lang, key string, args map[string]any) string {
	lang = normLang(lang)
	if _, ok := c.langs[lang]; !ok {
		lang = c.def
	}
	tmpl, ok := c.langs[lang][key]
	if !ok && lang != c.def {
		tmpl, ok = c.langs[c.def][key]
	}
	if !ok {
		return key
	}
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	missing := false
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		v, ok := args[m[1:len(m)-1]]
		if !ok {
			missing = true
			return m
		}
		return fmt.Sprint(v)
	})
	if missing {
		return tmpl
	}
	return out
}
