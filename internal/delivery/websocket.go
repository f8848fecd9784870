package delivery

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"notifyhub/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSOptions tunes the websocket endpoint.
type WSOptions struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

const maxInboundMessage = 4096

// command is a subscriber-to-server control frame.
type command struct {
	Action string `json:"action"`
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

func (c command) address() string {
	if r := strings.TrimSpace(c.Room); r != "" {
		return r
	}
	return strings.TrimSpace(c.UserID)
}

// ServeWS upgrades the request and attaches the connection to the hub.
// Subscribers join their address with {"action":"join","room":"<userId>"}
// or by connecting with ?userId=<userId>. Disconnecting leaves every room.
func ServeWS(hub *Hub, opts WSOptions, logger *zerolog.Logger) http.HandlerFunc {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		client := hub.Register()
		log := logger.With().Str("client", client.ID).Logger()
		log.Debug().Str("remote", r.RemoteAddr).Msg("subscriber connected")

		if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
			joinAndAck(hub, client, userID)
		}

		go writePump(conn, client, opts, &log)
		readPump(conn, hub, client, opts, &log)
	}
}

func joinAndAck(hub *Hub, client *Client, address string) {
	if !hub.Join(client, address) {
		return
	}
	raw, err := json.Marshal(Event{Name: models.EventJoined, Room: address, SentAt: time.Now()})
	if err != nil {
		return
	}
	select {
	case client.send <- raw:
	default:
	}
}

func readPump(conn *websocket.Conn, hub *Hub, client *Client, opts WSOptions, log *zerolog.Logger) {
	defer func() {
		hub.Unregister(client)
		_ = conn.Close()
		log.Debug().Msg("subscriber disconnected")
	}()

	conn.SetReadLimit(maxInboundMessage)
	pongWait := opts.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed command")
			continue
		}

		switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
		case "join":
			joinAndAck(hub, client, cmd.address())
		case "leave":
			hub.Leave(client, cmd.address())
		default:
			log.Debug().Str("action", cmd.Action).Msg("unknown command")
		}
	}
}

func writePump(conn *websocket.Conn, client *Client, opts WSOptions, log *zerolog.Logger) {
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
