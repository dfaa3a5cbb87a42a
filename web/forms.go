package web

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/Masterminds/sprig/v3"
)

// DefaultItemTemplate renders one sketch name of the load/save form list.
const DefaultItemTemplate = `<li><a href="#" onclick="do_action('{{ . }}'); return false;">{{ . }}</a></li>` + "\n"

// Forms renders the load and save pages: a static html file whose
// placeholder token is replaced by the list of saved sketches.
type Forms struct {
	item               *template.Template
	placeholder        string
	escapedPlaceholder string
}

func NewForms(itemTemplate, placeholder string) (*Forms, error) {
	if itemTemplate == "" {
		itemTemplate = DefaultItemTemplate
	}
	if placeholder == "" {
		return nil, fmt.Errorf("form placeholder is required")
	}
	item, err := template.New("sketchItem").Funcs(sprig.FuncMap()).Parse(itemTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse form item template: %w", err)
	}
	return &Forms{
		item:               item,
		placeholder:        placeholder,
		escapedPlaceholder: charRefs(placeholder),
	}, nil
}

// RenderList renders one list item per name, in the given order. A name
// containing the placeholder is written with character references, so the
// token never reaches the page.
func (f *Forms) RenderList(names []string) (string, error) {
	var buf bytes.Buffer
	for _, name := range names {
		if err := f.item.Execute(&buf, name); err != nil {
			return "", fmt.Errorf("failed to render sketch %q: %w", name, err)
		}
	}
	return strings.ReplaceAll(buf.String(), f.placeholder, f.escapedPlaceholder), nil
}

func charRefs(s string) string {
	var b strings.Builder
	for _, r := range s {
		fmt.Fprintf(&b, "&#%d;", r)
	}
	return b.String()
}

// Render reads the page file and substitutes the sketch list for the placeholder.
func (f *Forms) Render(page string, names []string) ([]byte, error) {
	source, err := os.ReadFile(page)
	if err != nil {
		return nil, fmt.Errorf("failed to read form %s: %w", page, err)
	}
	list, err := f.RenderList(names)
	if err != nil {
		return nil, err
	}
	return []byte(strings.ReplaceAll(string(source), f.placeholder, list)), nil
}
