package a2a

import (
	"sort"
	"strings"

	sdk "github.com/a2aproject/a2a-go/a2a"
	"github.com/nidhogg/mesh/internal/skill"
)

// CardConfig holds the identity advertised in the agent card.
type CardConfig struct {
	Name            string
	Description     string
	URL             string
	Version         string
	ProtocolVersion string
}

// DefaultCardConfig returns the stock MESH identity served at url.
func DefaultCardConfig(url string) CardConfig {
	return CardConfig{
		Name:            "mesh_agent",
		Description:     "Professional email management and networking assistant with multi-agent collaboration capabilities.",
		URL:             url,
		Version:         "1.0.0",
		ProtocolVersion: "0.3.0",
	}
}

// BuildCard creates the A2A agent card from the advertised skills.
func BuildCard(cfg CardConfig, skills []*skill.Skill) *sdk.AgentCard {
	out := make([]sdk.AgentSkill, 0, len(skills))
	for _, s := range skills {
		out = append(out, sdk.AgentSkill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Tags:        s.Tags,
			Examples:    s.Examples,
		})
	}
	modes := []string{"text", "text/plain", "application/json"}
	return &sdk.AgentCard{
		Name:               cfg.Name,
		Description:        cfg.Description,
		URL:                cfg.URL,
		Version:            cfg.Version,
		ProtocolVersion:    cfg.ProtocolVersion,
		DefaultInputModes:  modes,
		DefaultOutputModes: modes,
		Skills:             out,
		Capabilities:       sdk.AgentCapabilities{Streaming: true},
		PreferredTransport: sdk.TransportProtocolJSONRPC,
	}
}

// MatchSkills returns skills whose id, name or tags overlap with the text
// keywords, best match first.
func MatchSkills(skills []*skill.Skill, text string) []*skill.Skill {
	words := strings.Fields(strings.ToLower(text))
	type scored struct {
		s     *skill.Skill
		score int
	}
	var matched []scored
	for _, s := range skills {
		if n := matchScore(s, words); n > 0 {
			matched = append(matched, scored{s, n})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })
	out := make([]*skill.Skill, len(matched))
	for i, m := range matched {
		out[i] = m.s
	}
	return out
}

func matchScore(s *skill.Skill, words []string) int {
	score := 0
	name := strings.ToLower(s.Name + " " + s.ID)
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		for _, tag := range s.Tags {
			if strings.Contains(strings.ToLower(tag), w) {
				score++
			}
		}
		if strings.Contains(name, w) {
			score++
		}
	}
	return score
}
