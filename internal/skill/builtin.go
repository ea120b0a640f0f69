package skill

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// RegisterBuiltins binds the built-in task handlers and advertised skills.
func RegisterBuiltins(reg *Registry, content *Content) {
	b := &builtins{content: content}
	handlers := map[string]Handler{
		"email_draft":         b.emailDraft,
		"contact_search":      b.contactSearch,
		"contact_lookup":      b.contactLookup,
		"template_suggestion": b.templateSuggestion,
		"writing_assistance":  b.writingAssistance,
		"grammar_check":       b.grammarCheck,
		"crm_lookup":          b.crmLookup,
		"profile_synthesis":   b.profileSynthesis,
		"network_analysis":    b.networkAnalysis,
	}
	for t, h := range handlers {
		reg.Register(t, h)
	}

	skills := []*Skill{
		{
			ID:          "email_management",
			Name:        "Email Composition & Management",
			Description: "Create professional emails and manage email templates",
			Tags:        []string{"email", "composition", "templates", "professional"},
			Examples:    []string{"Write a professional follow-up email", "Generate an email template for networking"},
			TaskTypes:   []string{"email_draft", "template_suggestion", "writing_assistance", "grammar_check"},
		},
		{
			ID:          "contact_management",
			Name:        "Contact Database Operations",
			Description: "Search and retrieve contact information from database",
			Tags:        []string{"contacts", "database", "search", "relationships"},
			Examples:    []string{"Find contact information for John Smith", "Search for contacts in the tech industry"},
			TaskTypes:   []string{"contact_search", "contact_lookup", "crm_lookup", "profile_synthesis"},
		},
		{
			ID:          "professional_networking",
			Name:        "Strategic Networking",
			Description: "Build professional relationships and networking strategies",
			Tags:        []string{"networking", "relationships", "strategy", "professional"},
			Examples:    []string{"Create a 3-way introduction strategy", "Develop networking follow-up plan"},
			TaskTypes:   []string{"network_analysis"},
		},
		{
			ID:          "agent_collaboration",
			Name:        "Multi-Agent Collaboration",
			Description: "Coordinate with other AI agents for complex workflows",
			Tags:        []string{"collaboration", "workflow", "orchestration", "multi-agent"},
			Examples:    []string{"Delegate email writing to specialized agent", "Collaborate with multiple agents for project"},
		},
	}
	for _, s := range skills {
		s.Source = "builtin"
		reg.AddSkill(s)
	}
}

type builtins struct {
	content *Content
}

// str returns the first non-empty string value among keys.
func str(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (b *builtins) emailDraft(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	d := ComposeDraft(
		str(p, "recipient_email", "recipient", "to"),
		str(p, "subject"),
		str(p, "body"),
		str(p, "context", "purpose"),
	)
	return map[string]any{
		"email_draft": d,
		"result_data": fmt.Sprintf("Draft created for %s", d.To),
	}, nil
}

func (b *builtins) contactSearch(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	q := str(p, "name", "query")
	found := b.content.Directory.Search(q)
	return map[string]any{
		"contacts":    found,
		"count":       len(found),
		"search_term": q,
		"result_data": fmt.Sprintf("Found %d contact(s)", len(found)),
	}, nil
}

func (b *builtins) contactLookup(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	q := str(p, "name", "contact", "recipient", "query")
	if q == "" {
		return nil, fmt.Errorf("%w: contact_lookup needs a name", ErrInvalidInput)
	}
	found := b.content.Directory.Search(q)
	out := map[string]any{
		"search_term": q,
		"count":       len(found),
		"contact":     nil,
	}
	if len(found) > 0 {
		out["contact"] = found[0]
		out["result_data"] = fmt.Sprintf("Found contact %s", found[0].Name)
	} else {
		out["result_data"] = fmt.Sprintf("No contact matching '%s'", q)
	}
	return out, nil
}

func (b *builtins) templateSuggestion(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	out := SuggestTemplate(str(p, "context", "purpose"))
	if out["suggested_template"] != nil {
		out["result_data"] = "Template suggested"
	} else {
		out["result_data"] = "No matching template"
	}
	return out, nil
}

var spaces = regexp.MustCompile(`[ \t]+`)

func (b *builtins) writingAssistance(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	text := str(p, "body", "draft", "text", "context")
	enhanced := spaces.ReplaceAllString(strings.TrimSpace(text), " ")

	var suggestions []string
	if enhanced == "" {
		suggestions = append(suggestions, "Provide a draft or context to enhance")
	} else {
		if !strings.HasPrefix(strings.ToLower(enhanced), "hi") && !strings.HasPrefix(strings.ToLower(enhanced), "dear") {
			suggestions = append(suggestions, "Open with a personal greeting")
		}
		if !strings.Contains(strings.ToLower(enhanced), "regards") && !strings.Contains(strings.ToLower(enhanced), "best") {
			suggestions = append(suggestions, "Close with a sign-off")
		}
		if len(strings.Fields(enhanced)) > 200 {
			suggestions = append(suggestions, "Shorten the message to under 200 words")
		}
	}
	if recipient := str(p, "recipient", "recipient_email"); recipient != "" {
		suggestions = append(suggestions, fmt.Sprintf("Mention a shared context with %s", recipient))
	}

	return map[string]any{
		"enhanced_text": enhanced,
		"suggestions":   suggestions,
		"result_data":   "Content enhanced",
	}, nil
}

var loneI = regexp.MustCompile(`\bi\b`)

func (b *builtins) grammarCheck(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	text := str(p, "text", "body", "draft", "context")
	var issues []string

	corrected := text
	if strings.Contains(corrected, "  ") {
		issues = append(issues, "repeated spaces")
		corrected = spaces.ReplaceAllString(corrected, " ")
	}
	if loneI.MatchString(corrected) {
		issues = append(issues, "lowercase pronoun 'i'")
		corrected = loneI.ReplaceAllString(corrected, "I")
	}
	if r := []rune(corrected); len(r) > 0 && unicode.IsLower(r[0]) {
		issues = append(issues, "sentence should start with a capital letter")
		r[0] = unicode.ToUpper(r[0])
		corrected = string(r)
	}
	if trimmed := strings.TrimSpace(corrected); trimmed != "" && !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
		issues = append(issues, "missing closing punctuation")
		corrected = trimmed + "."
	}

	score := 100 - 10*len(issues)
	return map[string]any{
		"issues":         issues,
		"issue_count":    len(issues),
		"corrected_text": corrected,
		"score":          score,
		"result_data":    fmt.Sprintf("Grammar check found %d issue(s)", len(issues)),
	}, nil
}

func companyOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	domain := email[at+1:]
	if dot := strings.Index(domain, "."); dot > 0 {
		domain = domain[:dot]
	}
	return domain
}

func (b *builtins) crmLookup(_ context.Context, agent string, p map[string]any) (map[string]any, error) {
	q := str(p, "name", "contact", "recipient", "query")
	found := b.content.Directory.Search(q)
	if q == "" || len(found) == 0 {
		return map[string]any{
			"found":       false,
			"search_term": q,
			"result_data": "No CRM record",
		}, nil
	}
	c := found[0]
	return map[string]any{
		"found": true,
		"crm_record": map[string]any{
			"name":    c.Name,
			"email":   c.Email,
			"company": companyOf(c.Email),
			"url":     c.URL,
			"source":  agent,
		},
		"result_data": fmt.Sprintf("CRM record for %s", c.Name),
	}, nil
}

func (b *builtins) profileSynthesis(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	name := str(p, "name", "contact", "recipient", "query")
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	profile := map[string]any{"name": name}
	if found := b.content.Directory.Search(name); name != "" && len(found) > 0 {
		c := found[0]
		profile["name"] = c.Name
		profile["email"] = c.Email
		profile["company"] = companyOf(c.Email)
		profile["summary"] = c.Bio
	} else {
		profile["summary"] = "No directory entry; profile built from supplied input only"
	}
	return map[string]any{
		"profile":     profile,
		"sources":     keys,
		"result_data": fmt.Sprintf("Profile synthesized for %s", profile["name"]),
	}, nil
}

func (b *builtins) networkAnalysis(_ context.Context, _ string, p map[string]any) (map[string]any, error) {
	contacts := b.content.Directory.Search(str(p, "name", "query"))
	byCompany := make(map[string]int)
	for _, c := range contacts {
		byCompany[companyOf(c.Email)]++
	}

	var intros [][2]string
	for i := 0; i+1 < len(contacts) && len(intros) < 3; i += 2 {
		intros = append(intros, [2]string{contacts[i].Name, contacts[i+1].Name})
	}
	return map[string]any{
		"total_contacts":          len(contacts),
		"companies":               byCompany,
		"suggested_introductions": intros,
		"result_data":             fmt.Sprintf("Analyzed %d contact(s)", len(contacts)),
	}, nil
}
