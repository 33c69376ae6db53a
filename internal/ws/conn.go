package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	readLimit  = 1 << 20 // 1MB
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 校验 access token 后升级为 WebSocket，连接的显示名取自用户记录。
func Serve(g *Gateway, jwtSecret string, users auth.UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Authenticate(c.Request.Context(), auth.BearerToken(c), jwtSecret, users)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade")
			return
		}
		client := NewClient(uuid.NewString(), user.Name)
		metrics.WsConnections.Inc()
		log.Info().Str("conn", client.id).Str("user", client.name).Msg("ws connected")

		go writePump(conn, client)
		readPump(conn, g, client)
	}
}

func readPump(conn *websocket.Conn, g *Gateway, c *Client) {
	defer func() {
		g.Disconnect(c)
		_ = conn.Close()
		metrics.WsConnections.Dec()
		log.Info().Str("conn", c.id).Str("user", c.name).Msg("ws disconnected")
	}()
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			privateError(c, "malformed event")
			continue
		}
		g.Handle(context.Background(), c, in)
	}
}

func writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
