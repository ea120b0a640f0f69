package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Content is the data the built-in skills serve: the contact directory,
// email example templates and the assistant prompt.
type Content struct {
	Directory *Directory
	Examples  map[string]string
	Prompt    string
}

// DefaultContent returns the built-in content.
func DefaultContent() *Content {
	ex := make(map[string]string, len(defaultExamples))
	for k, v := range defaultExamples {
		ex[k] = v
	}
	return &Content{
		Directory: DefaultDirectory(),
		Examples:  ex,
		Prompt:    defaultPrompt,
	}
}

// LoadContent starts from the built-in content and overrides it with files
// found in dir: directory.csv, email-examples/*.md and prompts/mesh.md.
// A missing dir yields the defaults without error.
func LoadContent(dir string) (*Content, error) {
	c := DefaultContent()
	if dir == "" {
		return c, nil
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("reading content directory %s: %w", dir, err)
	}

	if f, err := os.Open(filepath.Join(dir, "directory.csv")); err == nil {
		d, perr := ParseDirectory(f)
		f.Close()
		if perr != nil {
			return nil, fmt.Errorf("loading directory.csv: %w", perr)
		}
		c.Directory = d
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening directory.csv: %w", err)
	}

	exDir := filepath.Join(dir, "email-examples")
	entries, err := os.ReadDir(exDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", exDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(exDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading example %s: %w", e.Name(), err)
		}
		c.Examples[strings.TrimSuffix(e.Name(), ".md")] = string(data)
	}

	if data, err := os.ReadFile(filepath.Join(dir, "prompts", "mesh.md")); err == nil {
		c.Prompt = string(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading prompt: %w", err)
	}

	return c, nil
}

// ExampleNames returns the example template names, sorted.
func (c *Content) ExampleNames() []string {
	out := make([]string, 0, len(c.Examples))
	for k := range c.Examples {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RenderPrompt fills {user_name} and {user_title} in the assistant prompt.
func (c *Content) RenderPrompt(userName, userTitle string) string {
	return strings.NewReplacer("{user_name}", userName, "{user_title}", userTitle).Replace(c.Prompt)
}
