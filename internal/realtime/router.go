package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/i474232898/weather-assistant/internal/auth"
)

// NewRouter serves GET /ws/{userID}. When verifier is non-nil the upgrade
// requires a token (Authorization header or ?token=) for that same user.
func NewRouter(hub *Hub, verifier *auth.Verifier) *chi.Mux {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Mobile clients send no Origin; browsers are gated by the token.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "healthy", "connections": hub.Connections()})
	})

	r.Get("/ws/{userID}", func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		if verifier != nil {
			token := r.URL.Query().Get("token")
			if token == "" {
				var err error
				if token, err = auth.BearerToken(r.Header.Get("Authorization")); err != nil {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
			}
			subject, err := verifier.Verify(token)
			if err != nil || subject != userID {
				http.Error(w, auth.ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.WithError(err).Warn("websocket upgrade failed")
			return
		}

		c := &Client{hub: hub, conn: conn, userID: userID, send: make(chan []byte, 256)}
		hub.register(c)

		go c.writePump()
		go c.readPump()
	})

	return r
}
