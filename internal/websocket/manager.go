package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

type clientMessage struct {
	client *Client
	data   []byte
}

// Manager tracks connected devices per user and fans record notifications
// out to them.
type Manager struct {
	mu    sync.RWMutex
	users map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	incoming   chan clientMessage

	maxConnPerUser int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	readLimit      int64
}

func NewManager(maxConnPerUser int, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		users:          make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		incoming:       make(chan clientMessage, 64),
		maxConnPerUser: maxConnPerUser,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

// SetReadLimit caps the size of messages read from clients. Call before Run.
func (m *Manager) SetReadLimit(n int64) {
	m.readLimit = n
}

// Run serves registrations and client messages until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case c := <-m.register:
			m.add(c)
		case c := <-m.unregister:
			m.remove(c)
		case msg := <-m.incoming:
			m.handle(msg)
		}
	}
}

func (m *Manager) Register(c *Client) {
	m.register <- c
}

func (m *Manager) add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := m.users[c.UserID]
	if conns == nil {
		conns = make(map[*Client]bool)
		m.users[c.UserID] = conns
	}
	if m.maxConnPerUser > 0 && len(conns) >= m.maxConnPerUser {
		log.Printf("[WebSocket] max connections reached for user %s", c.UserID)
		close(c.send)
		return
	}
	conns[c] = true
	log.Printf("[WebSocket] client registered: user %s, device %s", c.UserID, c.DeviceID)
}

func (m *Manager) remove(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.users[c.UserID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(m.users, c.UserID)
	}
	close(c.send)
	log.Printf("[WebSocket] client unregistered: user %s, device %s", c.UserID, c.DeviceID)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, conns := range m.users {
		for c := range conns {
			close(c.send)
		}
		delete(m.users, user)
	}
}

func (m *Manager) handle(msg clientMessage) {
	var in Message
	if err := json.Unmarshal(msg.data, &in); err != nil {
		log.Printf("[WebSocket] bad message from %s: %v", msg.client.UserID, err)
		return
	}
	if in.Type != TypePing {
		return
	}
	pong, err := NewMessage(TypePong, nil)
	if err != nil {
		return
	}
	data, _ := json.Marshal(pong)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.users[msg.client.UserID][msg.client] {
		m.deliver(msg.client, data)
	}
}

// deliver drops the client when its buffer is full.
func (m *Manager) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Printf("[WebSocket] send buffer full for user %s, dropping connection", c.UserID)
		go func() { m.unregister <- c }()
	}
}

// NotifyUser sends msg to every connection of userID except those of
// excludeDeviceID.
func (m *Manager) NotifyUser(userID string, msg *Message, excludeDeviceID string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for c := range m.users[userID] {
		if excludeDeviceID != "" && c.DeviceID == excludeDeviceID {
			continue
		}
		m.deliver(c, data)
	}
	return nil
}

func (m *Manager) Connections(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}
