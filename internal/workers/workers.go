package workers

import (
	"github.com/rs/zerolog/log"

	"doable/internal/engine/resettokens"
	"doable/internal/engine/sessions"
)

// Sweeper runs the periodic housekeeping jobs. Liveness never depends on
// these sweeps; expired rows are also rejected lazily on read.
type Sweeper struct {
	sessions *sessions.Store
	resets   *resettokens.Manager
}

func NewSweeper(sessionStore *sessions.Store, resetMgr *resettokens.Manager) *Sweeper {
	return &Sweeper{sessions: sessionStore, resets: resetMgr}
}

// SweepSessions deletes sessions past their absolute expiry.
func (s *Sweeper) SweepSessions() {
	deleted, err := s.sessions.CleanupExpired()
	if err != nil {
		log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("swept expired sessions")
	}
}

// SweepResetTokens deletes reset tokens past their expiry, used or not.
func (s *Sweeper) SweepResetTokens() {
	deleted, err := s.resets.CleanupExpired()
	if err != nil {
		log.Error().Err(err).Msg("reset token sweep failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("swept expired reset tokens")
	}
}
