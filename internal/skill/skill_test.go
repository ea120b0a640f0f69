package skill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newBuiltinRegistry(t *testing.T, strict bool) *Registry {
	t.Helper()
	reg := NewRegistry(strict, zap.NewNop())
	RegisterBuiltins(reg, DefaultContent())
	return reg
}

func TestRegistryTypesAndSkills(t *testing.T) {
	reg := newBuiltinRegistry(t, false)

	types := reg.Types()
	if len(types) != 9 {
		t.Fatalf("got %d task types, want 9: %v", len(types), types)
	}
	if types[0] != "contact_lookup" {
		t.Errorf("types not sorted: %v", types)
	}
	if !slices.Contains(types, "email_draft") || slices.Contains(types, "nope") {
		t.Errorf("wrong bindings: %v", types)
	}

	skills := reg.Skills()
	if len(skills) != 4 {
		t.Fatalf("got %d skills, want 4", len(skills))
	}
	if skills[0].ID != "agent_collaboration" || skills[0].Source != "builtin" {
		t.Errorf("unexpected first skill %+v", skills[0])
	}
}

func TestGenericFallback(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	res, err := reg.Execute(context.Background(), "translate", "EmailBot", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res["result_data"] != "Task 'translate' completed successfully" {
		t.Errorf("got %v", res["result_data"])
	}

	strict := newBuiltinRegistry(t, true)
	if _, err := strict.Execute(context.Background(), "translate", "EmailBot", nil); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("strict mode: got %v, want ErrUnknownTask", err)
	}
}

func TestExecuteHonoursCancelledContext(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reg.Execute(ctx, "email_draft", "MESH", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestEmailDraft(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	res, err := reg.Execute(context.Background(), "email_draft", "MESH", map[string]any{
		"recipient": "Sarah",
		"context":   "networking follow-up",
	})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := res["email_draft"].(Draft)
	if !ok {
		t.Fatalf("email_draft has type %T", res["email_draft"])
	}
	if d.To != "Sarah" || d.Subject != "No Subject" || d.Status != "draft_created" {
		t.Errorf("unexpected draft %+v", d)
	}
	if !strings.Contains(d.Body, "follow up on the points") {
		t.Errorf("follow-up context should win, got %q", d.Body)
	}
}

func TestContactSearch(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	res, err := reg.Execute(context.Background(), "contact_search", "MESH", map[string]any{"name": "sarah"})
	if err != nil {
		t.Fatal(err)
	}
	if res["count"] != 1 {
		t.Fatalf("count = %v, want 1", res["count"])
	}
	contacts := res["contacts"].([]Contact)
	if contacts[0].Email != "sarah@innovateai.tech" {
		t.Errorf("got %+v", contacts[0])
	}

	res, _ = reg.Execute(context.Background(), "contact_search", "MESH", map[string]any{})
	if res["count"] != 5 {
		t.Errorf("empty query count = %v, want 5", res["count"])
	}
}

func TestContactLookupNeedsName(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	if _, err := reg.Execute(context.Background(), "contact_lookup", "MESH", map[string]any{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestSuggestTemplate(t *testing.T) {
	res := SuggestTemplate("Need an Introduction for two founders")
	s, ok := res["suggested_template"].(TemplateSuggestion)
	if !ok || s.Template != "email-examples://3-way-intro" {
		t.Errorf("got %+v", res["suggested_template"])
	}

	res = SuggestTemplate("quarterly report")
	if res["suggested_template"] != nil || res["message"] == nil {
		t.Errorf("expected no suggestion, got %+v", res)
	}
}

func TestGrammarCheck(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	res, err := reg.Execute(context.Background(), "grammar_check", "GrammarBot", map[string]any{
		"text": "thanks,  i will send it tomorrow",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res["corrected_text"] != "Thanks, I will send it tomorrow." {
		t.Errorf("corrected_text = %q", res["corrected_text"])
	}
	if res["issue_count"] != 4 {
		t.Errorf("issue_count = %v, want 4", res["issue_count"])
	}
}

func TestCRMLookupAndProfile(t *testing.T) {
	reg := newBuiltinRegistry(t, false)
	res, err := reg.Execute(context.Background(), "crm_lookup", "CRMConnector", map[string]any{"name": "Marcus"})
	if err != nil {
		t.Fatal(err)
	}
	rec := res["crm_record"].(map[string]any)
	if rec["company"] != "northwind" || rec["source"] != "CRMConnector" {
		t.Errorf("got %+v", rec)
	}

	res, err = reg.Execute(context.Background(), "profile_synthesis", "MESH", map[string]any{"name": "Priya"})
	if err != nil {
		t.Fatal(err)
	}
	profile := res["profile"].(map[string]any)
	if profile["name"] != "Priya Raman" {
		t.Errorf("got %+v", profile)
	}
}

func TestParseDirectory(t *testing.T) {
	d, err := ParseDirectory(strings.NewReader("Email,Name\nann@x.io,Ann Lee\n,\n"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Len() != 1 || d.Search("ann")[0].Email != "ann@x.io" {
		t.Errorf("unexpected contacts %+v", d.Search(""))
	}

	if _, err := ParseDirectory(strings.NewReader("Email,Url\na@b.c,x\n")); err == nil {
		t.Error("expected error for missing Name column")
	}
}

func TestLoadContentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "directory.csv"), "Name,Email,Url,Bio\nZed Park,zed@park.dev,https://park.dev,Builder\n")
	writeFile(t, filepath.Join(dir, "email-examples", "thank-you.md"), "# Thanks")
	writeFile(t, filepath.Join(dir, "prompts", "mesh.md"), "Hello {user_name}, the {user_title}")

	c, err := LoadContent(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Directory.Len() != 1 {
		t.Errorf("directory not overridden: %d contacts", c.Directory.Len())
	}
	names := c.ExampleNames()
	if len(names) != 3 || names[2] != "thank-you" {
		t.Errorf("examples = %v", names)
	}
	if got := c.RenderPrompt("Ada", "CTO"); got != "Hello Ada, the CTO" {
		t.Errorf("prompt = %q", got)
	}
}

func TestLoadContentMissingDir(t *testing.T) {
	c, err := LoadContent(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Directory.Len() != 5 || !strings.Contains(c.RenderPrompt("Ada", "CTO"), "assistant to Ada (CTO)") {
		t.Error("expected built-in content")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
