package httpapi

import (
	"net/http"
	"time"

	"github.com/mbrandolini/cookalong/internal/audio"
)

const unlockToneSampleRate = 16000

// handleUnlockTone serves a short silent WAV clip. The UI plays it inside the
// user's connect gesture to unlock the output path before the agent's opening
// utterance arrives.
func (s *Server) handleUnlockTone(w http.ResponseWriter, _ *http.Request) {
	pcm := audio.Silence(200*time.Millisecond, unlockToneSampleRate)
	wav, err := audio.EncodeWAVPCM16LE(pcm, unlockToneSampleRate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
