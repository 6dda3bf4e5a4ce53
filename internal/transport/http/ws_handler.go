package http

import (
	"net/http"
	"time"

	"milhao-quiz-service/internal/domain"
)

const progressWriteWait = 10 * time.Second

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeProgress upgrades to a websocket that streams the caller's job
// progress. The user comes from the userId query parameter or the user header.
func (s *Server) ServeProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = r.Header.Get(UserHeader)
	}
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	// the server's read timeout would otherwise end idle channels
	_ = conn.SetReadDeadline(time.Time{})

	events, cancel := s.progress.Subscribe(userID)
	defer cancel()
	log := s.log.With().Str("userId", userID).Logger()
	log.Debug().Msg("progress channel opened")

	// The client never sends anything meaningful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := conn.WriteJSON(outboundMessage[domain.ProgressEvent]{Type: string(ev.Kind), Payload: ev}); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		case <-closed:
			log.Debug().Msg("progress channel closed")
			return
		}
	}
}
