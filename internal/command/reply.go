package command

import (
	"fmt"
	"strings"
)

// topic is one keyword rule of the free-text responder. Rules are tried in
// order and the first with a matching keyword wins.
type topic struct {
	keywords []string
	answer   func(lower string) string
}

var topics = []topic{
	{
		keywords: []string{"email", "draft", "compose", "write"},
		answer: func(lower string) string {
			switch {
			case strings.Contains(lower, "template"):
				return emailTemplatesReply
			case strings.Contains(lower, "professional"):
				return professionalEmailReply
			default:
				return emailReply
			}
		},
	},
	{
		keywords: []string{"contact", "database", "search", "find"},
		answer:   func(string) string { return contactReply },
	},
	{
		keywords: []string{"network", "introduction", "connect", "relationship"},
		answer: func(lower string) string {
			if strings.Contains(lower, "3-way") || strings.Contains(lower, "introduction") {
				return introductionReply
			}
			return networkingReply
		},
	},
	{
		keywords: []string{"collaborate", "workflow", "agent", "coordinate"},
		answer:   func(string) string { return collaborationReply },
	},
	{
		keywords: []string{"help", "what can you do", "capabilities", "skills"},
		answer:   func(string) string { return helpReply },
	},
}

// Reply answers a free-text message by keyword.
func Reply(text string) string {
	lower := strings.ToLower(text)
	for _, t := range topics {
		for _, k := range t.keywords {
			if strings.Contains(lower, k) {
				return t.answer(lower)
			}
		}
	}
	return fmt.Sprintf(fallbackReply, text)
}

const (
	emailTemplatesReply = `I can help you with email templates! I offer several professional templates:

1. Follow-up - for post-meeting follow-ups
2. Networking - for building professional connections
3. Introduction - for 3-way introductions
4. Thank you - for post-interview follow-ups

Would you like me to generate a specific template for you?`

	professionalEmailReply = `I specialize in creating professional emails! I can help you with:

- Business follow-ups
- Networking outreach
- Professional introductions
- Thank you notes
- Meeting confirmations

Just let me know what type of email you need and I'll craft it for you.`

	emailReply = "I'm your email composition assistant! I can help you create professional emails, suggest templates, and manage your email communications. What type of email would you like help with?"

	contactReply = `I can help you search and manage your contact database! I can:

- Search for contacts by name, company, or industry
- Provide contact details and relationship history
- Suggest networking opportunities
- Help organize your professional network

What contact information are you looking for?`

	introductionReply = `I'm excellent at 3-way introductions! This involves connecting two people through a mutual contact. I can help you:

- Identify potential connections
- Craft introduction messages
- Follow up on introductions
- Build your professional network strategically

Would you like me to help you set up a 3-way introduction?`

	networkingReply = `I can help you build and manage your professional network! I offer:

- Strategic networking strategies
- Introduction management
- Follow-up planning
- Relationship tracking
- Networking opportunity identification

What networking goal would you like to work on?`

	collaborationReply = `I'm designed for multi-agent collaboration! I can:

- Coordinate with other AI agents
- Execute complex workflows
- Delegate tasks to specialized agents
- Manage multi-step processes

What kind of collaboration or workflow would you like to explore? Try /agents or /workflows.`

	helpReply = `I'm MESH, your professional email management and networking assistant! Here's what I can do:

Email management: compose professional emails, generate templates, manage follow-ups.
Contact management: search the contact database, track relationships.
Professional networking: 3-way introductions, relationship building.
Multi-agent collaboration: workflow orchestration, task delegation.

Type /help for the list of commands.`

	fallbackReply = `I understand you're asking about: '%s'

As your professional email and networking assistant, I can help you with:

- Creating professional emails and templates
- Managing your contact database
- Building strategic professional relationships
- Coordinating multi-agent workflows

Could you please rephrase your question or let me know what specific help you need?`
)
