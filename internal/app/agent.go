package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbrandolini/cookalong/internal/agent"
	"github.com/mbrandolini/cookalong/internal/config"
)

type agentSetup struct {
	exchanger     agent.TokenExchanger
	newCapability func() agent.Capability
	provider      string
	detail        string
}

// resolveAgentProvider picks the voice backend. Each cook session gets its
// own capability instance; the token exchanger is stateless and shared.
func resolveAgentProvider(cfg config.Config, logger *slog.Logger) (agentSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.AgentProvider))
	if mode == "" {
		mode = "auto"
	}

	tryElevenLabs := func() (agentSetup, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" || strings.TrimSpace(cfg.ElevenLabsAgentID) == "" {
			return agentSetup{}, false
		}
		return agentSetup{
			exchanger: agent.NewElevenLabsExchanger(cfg.ElevenLabsAPIKey, cfg.ElevenLabsAgentID, cfg.ElevenLabsAPIBaseURL),
			newCapability: func() agent.Capability {
				return agent.NewElevenLabs(cfg.ElevenLabsWSBaseURL, logger)
			},
			provider: "elevenlabs",
			detail:   "elevenlabs agents platform",
		}, true
	}

	mockSetup := func(detail string) agentSetup {
		return agentSetup{
			exchanger:     agent.StaticExchanger{},
			newCapability: func() agent.Capability { return agent.NewMock() },
			provider:      "mock",
			detail:        detail,
		}
	}

	switch mode {
	case "elevenlabs":
		if setup, ok := tryElevenLabs(); ok {
			return setup, nil
		}
		return agentSetup{}, fmt.Errorf("AGENT_PROVIDER=elevenlabs but ELEVENLABS_API_KEY/ELEVENLABS_AGENT_ID are not set")
	case "mock":
		return mockSetup("mock (explicit)"), nil
	case "auto":
		if setup, ok := tryElevenLabs(); ok {
			return setup, nil
		}
		return mockSetup("mock (no elevenlabs credentials)"), nil
	default:
		return agentSetup{}, fmt.Errorf("invalid AGENT_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.AgentProvider)
	}
}
