package ws

import "time"

const (
	heartbeatInterval = 30 * time.Second
	staleAfter        = 90 * time.Second
)

// heartbeatLoop sweeps out connections that have stopped sending pings.
// Clients ping every 20-30s; three missed intervals counts as dead even
// if the TCP socket never reported the loss.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			for _, c := range s.conns.all() {
				if c.LastPing().Before(cutoff) {
					s.log.Info().
						Str("conn_id", c.ID).
						Int64("user_id", c.UserID).
						Time("last_ping", c.LastPing()).
						Msg("closing stale connection")
					s.closeConnection(c, ErrStaleConnection)
				}
			}
		}
	}
}
