package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// wsConn adapts a websocket connection to the registry's Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Send(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}

// registerWS mounts the realtime endpoint. The upgrade bypasses the
// JSON API machinery; the token arrives as a query parameter because
// browser websocket clients cannot set headers.
func registerWS(router chi.Router, basePath string, cfg Config) {
	if cfg.Registry == nil {
		return
	}
	router.Get(path.Join(basePath, "ws/connect"), func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			if t, ok := bearerToken(r.Header.Get("Authorization")); ok {
				token = t
			}
		}
		principal, err := authenticateJWT(token, cfg.Auth.JWTSecret)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		ctx := r.Context()
		u, err := cfg.Engine.Repo.GetUser(ctx, principal.UserID)
		if err != nil || !u.Active {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		projectIDs, err := cfg.Engine.Repo.MemberProjectIDs(ctx, u.ID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Printf("ws: accept for %s failed: %v", u.ID, err)
			return
		}
		cfg.Registry.Connect(wsConn{c: conn}, u.ID, u.Role, projectIDs)

		hello := map[string]any{
			"type":     "connected",
			"user_id":  u.ID,
			"role":     string(u.Role),
			"projects": projectIDs,
		}
		if err := writeJSON(r.Context(), conn, hello); err != nil {
			cfg.Registry.Disconnect(u.ID)
			return
		}

		// Hold the connection open until the peer goes away. Clients
		// only receive; inbound frames are drained and ignored.
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				break
			}
		}
		cfg.Registry.Disconnect(u.ID)
	})
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
