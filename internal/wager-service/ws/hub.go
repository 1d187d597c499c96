package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// client serializa as escritas: gorilla aceita um único writer por conexão
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas por ref de aposta
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu sync.RWMutex
	// topic -> conexões inscritas
	subs map[string]map[*client]struct{}
}

// NewHub cria o hub com a política de origem informada
func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão.
// Cada cliente pode se inscrever em várias apostas.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.Topic == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.Topic]; !ok {
				h.subs[msg.Topic] = make(map[*client]struct{})
			}
			h.subs[msg.Topic][c] = struct{}{}
			h.mu.Unlock()
			_ = c.write(ack("subscribed", msg.Topic))
		case "unsubscribe":
			h.remove(c, msg.Topic)
			_ = c.write(ack("unsubscribed", msg.Topic))
		case "ping":
			_ = c.write(ack("pong", ""))
		}
	}

	h.mu.Lock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
	h.mu.Unlock()
}

func ack(kind, topic string) []byte {
	b, _ := json.Marshal(map[string]string{"type": kind, "topic": topic})
	return b
}

func (h *Hub) remove(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Subscribers conta as conexões inscritas num tópico
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Broadcast envia o update para os clientes inscritos no Topic
func (h *Hub) Broadcast(update Update) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.subs[update.Topic]))
	for c := range h.subs[update.Topic] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, err := json.Marshal(update)
	if err != nil {
		h.log.Warn("ws update encode failed", zap.String("topic", update.Topic), zap.Error(err))
		return
	}
	for _, c := range conns {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.String("topic", update.Topic), zap.Error(err))
		}
	}
}

// Dispatch decodifica um update vindo do pub/sub e faz o broadcast
func (h *Hub) Dispatch(payload []byte) error {
	var upd Update
	if err := json.Unmarshal(payload, &upd); err != nil {
		return err
	}
	h.Broadcast(upd)
	return nil
}
