// channel.go — WebSocket-канал пиров.
//
// Протокол: клиент присылает {"type":"register-peer","peerId":"..."},
// подтверждения нет. Отключение канала снимает регистрацию.
// Сервер шлёт ping; при отсутствии pong дольше PongWait канал закрывается.
package peer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/xid"
)

// MessageTypeRegister — единственный тип сообщения канала.
const MessageTypeRegister = "register-peer"

// writeWait — таймаут записи control-фреймов.
const writeWait = 10 * time.Second

var peerChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fs_peer_channels_active",
	Help: "Количество открытых WebSocket-каналов пиров.",
})

// Message — входящее сообщение канала.
type Message struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}

// HubConfig — параметры канала.
type HubConfig struct {
	// PongWait — максимальное время без pong от клиента
	PongWait time.Duration
	// MaxMessageSize — лимит размера входящего сообщения
	MaxMessageSize int64
	// AllowedOrigins — разрешённые Origin; пусто — любой
	AllowedOrigins []string
}

// Hub принимает WebSocket-соединения пиров и передаёт события в Registry.
type Hub struct {
	registry *Registry
	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

// NewHub создаёт Hub поверх реестра.
func NewHub(registry *Registry, cfg HubConfig, logger *slog.Logger) *Hub {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	h := &Hub{
		registry: registry,
		cfg:      cfg,
		conns:    make(map[string]*conn),
		logger:   logger.With(slog.String("component", "peer_hub")),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// conn — канал пира.
type conn struct {
	id string
	ws *websocket.Conn
}

// ID возвращает идентификатор канала.
func (c *conn) ID() string { return c.id }

// ServeHTTP обновляет соединение до WebSocket и обслуживает его до закрытия.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("Ошибка установки WebSocket-соединения",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	c := &conn{id: xid.New().String(), ws: ws}
	if !h.track(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer h.wg.Done()

	h.registry.OnConnect(c)
	peerChannelsActive.Inc()

	done := make(chan struct{})
	var pingWG sync.WaitGroup
	pingWG.Add(1)
	go func() {
		defer pingWG.Done()
		h.pingLoop(c, done)
	}()

	h.readLoop(c)

	close(done)
	pingWG.Wait()
	_ = ws.Close()

	h.untrack(c)
	h.registry.OnClose(c)
	peerChannelsActive.Dec()
}

// readLoop читает сообщения до ошибки или закрытия соединения.
func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				h.logger.Debug("Канал пира закрыт с ошибкой",
					slog.String("channel_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Некорректное сообщение канала пира",
				slog.String("channel_id", c.id),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch msg.Type {
		case MessageTypeRegister:
			if msg.PeerID == "" {
				h.logger.Warn("Регистрация без peerId", slog.String("channel_id", c.id))
				continue
			}
			h.registry.OnRegister(c, msg.PeerID)
		default:
			h.logger.Debug("Неизвестный тип сообщения",
				slog.String("channel_id", c.id),
				slog.String("type", msg.Type),
			)
		}
	}
}

// pingLoop шлёт ping с периодом 0.9 * PongWait.
func (h *Hub) pingLoop(c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				// Ожидаемо, если клиент ушёл; readLoop завершится по дедлайну
				h.logger.Debug("Ошибка отправки ping",
					slog.String("channel_id", c.id),
					slog.String("error", err.Error()),
				)
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (h *Hub) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// Len возвращает число открытых каналов.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close закрывает все каналы и ждёт снятия их регистраций.
// Новые соединения после Close отклоняются.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		_ = c.ws.Close()
	}
	h.wg.Wait()

	h.logger.Info("Каналы пиров закрыты",
		slog.Int("channels", len(conns)),
		slog.Int("peers_left", h.registry.Len()),
	)
}
