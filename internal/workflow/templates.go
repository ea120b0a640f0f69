package workflow

// LocalAgent is the target name of steps run by this server itself.
const LocalAgent = "MESH"

// DefaultTemplates is the built-in template catalog.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:        "email_composition",
			DisplayName: "Intelligent Email Composition",
			Steps: []Blueprint{
				{Name: "Initial Draft", TaskType: "email_draft", TargetAgent: LocalAgent},
				{Name: "Content Enhancement", TaskType: "writing_assistance", TargetAgent: "EmailBot", Dependencies: []string{"Initial Draft"}},
				{Name: "Grammar Check", TaskType: "grammar_check", TargetAgent: "GrammarBot", Dependencies: []string{"Content Enhancement"}},
			},
		},
		{
			Name:        "contact_intelligence",
			DisplayName: "Contact Intelligence Gathering",
			Steps: []Blueprint{
				{Name: "Basic Contact Info", TaskType: "contact_lookup", TargetAgent: LocalAgent},
				{Name: "CRM Enrichment", TaskType: "crm_lookup", TargetAgent: "CRMConnector", Dependencies: []string{"Basic Contact Info"}},
				{Name: "Profile Synthesis", TaskType: "profile_synthesis", TargetAgent: LocalAgent, Dependencies: []string{"CRM Enrichment"}},
			},
		},
	}
}
