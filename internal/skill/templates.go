package skill

import (
	"fmt"
	"strings"
)

var defaultExamples = map[string]string{
	"3-way-intro": `# 3-Way Introduction

Subject: Intro: {person_a} <> {person_b}

Hi {person_a} and {person_b},

I'd like to introduce you two. {person_a}, meet {person_b}, who {context_b}.
{person_b}, meet {person_a}, who {context_a}.

I think you would both benefit from a conversation about {shared_topic}.
I'll let you take it from here.

Best,
{sender}
`,
	"call-follow-up": `# Call Follow-up

Subject: Following up on our call

Hi {recipient},

Thanks for taking the time to speak today. A quick recap of what we covered:

- {point_1}
- {point_2}

Next steps:

1. {action_1}
2. {action_2}

Let me know if I missed anything.

Best,
{sender}
`,
}

const defaultPrompt = `# MESH (Model Exchange Server Handler)

You are MESH, a virtual assistant to {user_name} ({user_title}). You support them with
administrative tasks, particularly email management and professional networking.

## Responsibilities

- Draft professional emails using the example templates (email-examples://3-way-intro,
  email-examples://call-follow-up) as a reference for tone and structure.
- Look up people in the contact directory (directory://all) before writing to them.
- Delegate specialised work (grammar checks, CRM enrichment, network analysis) to
  partner agents discovered on the agent network.

## Style

Write concisely and warmly. Sign emails as {user_name}.
`

// TemplateSuggestion describes one suggested email example.
type TemplateSuggestion struct {
	Template    string `json:"template"`
	Description string `json:"description"`
	BestFor     string `json:"best_for"`
}

type suggestionRule struct {
	keyword    string
	suggestion TemplateSuggestion
}

var suggestionRules = []suggestionRule{
	{"introduction", TemplateSuggestion{
		Template:    "email-examples://3-way-intro",
		Description: "Professional 3-way introduction template",
		BestFor:     "Connecting two people who could benefit from knowing each other",
	}},
	{"follow-up", TemplateSuggestion{
		Template:    "email-examples://call-follow-up",
		Description: "Call follow-up template with action items",
		BestFor:     "Following up after meetings or calls",
	}},
	{"networking", TemplateSuggestion{
		Template:    "email-examples://3-way-intro",
		Description: "Professional networking introduction",
		BestFor:     "Expanding your professional network",
	}},
}

// SuggestTemplate picks an email example by the first keyword found in context.
func SuggestTemplate(context string) map[string]any {
	available := make([]string, len(suggestionRules))
	for i, r := range suggestionRules {
		available[i] = r.keyword
	}
	lower := strings.ToLower(context)
	for _, r := range suggestionRules {
		if strings.Contains(lower, r.keyword) {
			s := r.suggestion
			return map[string]any{
				"suggested_template":  s,
				"context":             context,
				"available_templates": available,
			}
		}
	}
	return map[string]any{
		"suggested_template":  nil,
		"context":             context,
		"available_templates": available,
		"message":             "No specific template found. Consider using a general professional email format.",
	}
}

// Draft is a composed email draft.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Status  string `json:"status"`
}

// ComposeDraft writes a draft body. An explicit body wins; otherwise the
// body is generated from the context keywords.
func ComposeDraft(recipient, subject, body, context string) Draft {
	if recipient == "" {
		recipient = "there"
	}
	if subject == "" {
		subject = "No Subject"
	}
	if body == "" {
		lower := strings.ToLower(context)
		switch {
		case strings.Contains(lower, "follow-up"):
			body = fmt.Sprintf("Hi %s,\n\nThank you for our recent conversation. I wanted to follow up on the points we discussed.\n\nBest regards,\nMESH Assistant", recipient)
		case strings.Contains(lower, "networking"):
			body = fmt.Sprintf("Hi %s,\n\nI hope this email finds you well. I'm reaching out to connect and explore potential collaboration opportunities.\n\nBest regards,\nMESH Assistant", recipient)
		default:
			body = fmt.Sprintf("Hi %s,\n\n%s\n\nBest regards,\nMESH Assistant", recipient, context)
		}
	}
	return Draft{To: recipient, Subject: subject, Body: body, Status: "draft_created"}
}
