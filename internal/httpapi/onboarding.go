package httpapi

import (
	"net/http"
	"strings"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	AgentProvider string            `json:"agent_provider"`
	RecipeStore   string            `json:"recipe_store"`
	Checks        []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(s.provider))
	if provider == "" {
		provider = "mock"
	}

	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, onboardingCheck{
		ID:     "agent_provider",
		Status: "ok",
		Label:  "Voice agent backend",
		Detail: provider,
	})

	switch provider {
	case "elevenlabs":
		if strings.TrimSpace(s.cfg.ElevenLabsAPIKey) == "" {
			checks = append(checks, onboardingCheck{
				ID:     "elevenlabs_key",
				Status: "error",
				Label:  "ElevenLabs API key",
				Detail: "ELEVENLABS_API_KEY is not set",
				Fix:    "Set ELEVENLABS_API_KEY or switch to AGENT_PROVIDER=mock.",
			})
		} else {
			checks = append(checks, onboardingCheck{
				ID:     "elevenlabs_key",
				Status: "ok",
				Label:  "ElevenLabs API key",
				Detail: "present",
			})
		}
		if strings.TrimSpace(s.cfg.ElevenLabsAgentID) == "" {
			checks = append(checks, onboardingCheck{
				ID:     "elevenlabs_agent",
				Status: "error",
				Label:  "ElevenLabs agent id",
				Detail: "ELEVENLABS_AGENT_ID is not set",
				Fix:    "Create an agent in the ElevenLabs dashboard and set ELEVENLABS_AGENT_ID.",
			})
		} else {
			checks = append(checks, onboardingCheck{
				ID:     "elevenlabs_agent",
				Status: "ok",
				Label:  "ElevenLabs agent id",
				Detail: "present",
			})
		}
	case "mock":
		checks = append(checks, onboardingCheck{
			ID:     "mock_agent",
			Status: "warn",
			Label:  "Voice agent is mock",
			Detail: "Conversations are scripted; no real voice backend.",
			Fix:    "Set ELEVENLABS_API_KEY and ELEVENLABS_AGENT_ID to go live.",
		})
	}

	switch s.storeMode {
	case "postgres":
		checks = append(checks, onboardingCheck{
			ID:     "recipe_store",
			Status: "ok",
			Label:  "Recipe catalog",
			Detail: "postgres",
		})
	default:
		checks = append(checks, onboardingCheck{
			ID:     "recipe_store",
			Status: "warn",
			Label:  "Recipe catalog",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist recipes across restarts.",
		})
	}

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		AgentProvider: provider,
		RecipeStore:   s.storeMode,
		Checks:        checks,
	})
}
