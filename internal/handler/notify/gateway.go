package notify

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"alertflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// keepalive的ping间隔
const pingPeriod = 30 * time.Second
const pongWait = 60 * time.Second

// client send buffer
const sendBufSize = 1024

// 慢消费者连续丢弃阈值
const dropThreshold = 200

// NotifyGateway 管理通知 websocket 长连接，按 user_id 索引
// 同一用户重复连接时新连接原子替换旧连接
type NotifyGateway struct {
	mu      sync.RWMutex
	clients map[string]*ClientConn // map[userID]*ClientConn

	upgrader websocket.Upgrader

	dropped int64 // 本地投递丢弃总数（通道满）
}

func NewNotifyGateway() *NotifyGateway {
	return &NotifyGateway{
		clients: make(map[string]*ClientConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS 建立 websocket 连接
func (g *NotifyGateway) ServeWS(c *gin.Context) {
	// client_id 即用户ID，一个用户同时只保留一条连接
	userID := c.Query("client_id")
	if userID == "" {
		c.Writer.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("NotifyGateway upgrade error: %v", err)
		return
	}

	client := &ClientConn{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufSize),
	}

	// 使用读写锁确保原子替换
	var oldClient *ClientConn
	g.mu.Lock()
	{
		if existing, ok := g.clients[userID]; ok {
			oldClient = existing
			logger.Infof("NotifyGateway: user %s reconnected, replacing old connection", userID)
		}
		g.clients[userID] = client
	}
	g.mu.Unlock()

	// 异步关闭旧连接，防止阻塞ServeWS
	if oldClient != nil {
		go oldClient.Close()
	}

	defer func() {
		// 从活跃 clients map 中移除（仅在未被替换时）
		g.mu.Lock()
		{
			if current, ok := g.clients[userID]; ok && current == client {
				delete(g.clients, userID)
			}
		}
		g.mu.Unlock()

		client.Close()
	}()

	go client.writePump()

	// readPump 阻塞直到客户端关闭
	client.readPump(g)
}

// Deliver 转发给本地连接，用户不在本实例返回false
func (g *NotifyGateway) Deliver(userID string, data []byte) bool {
	g.mu.RLock()
	c, ok := g.clients[userID]
	g.mu.RUnlock()

	if !ok {
		return false
	}
	if !c.safeSend(data) {
		atomic.AddInt64(&g.dropped, 1)
		return false
	}
	return true
}

// BroadcastLocal 发给本实例所有在线连接
func (g *NotifyGateway) BroadcastLocal(data []byte) {
	g.mu.RLock()
	clientsCopy := make([]*ClientConn, 0, len(g.clients))
	for _, c := range g.clients {
		clientsCopy = append(clientsCopy, c)
	}
	g.mu.RUnlock()

	// 在解锁后对副本进行操作
	for _, c := range clientsCopy {
		if !c.safeSend(data) {
			atomic.AddInt64(&g.dropped, 1)
		}
	}
}

// Connected 用户是否在本实例有活跃连接
func (g *NotifyGateway) Connected(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.clients[userID]
	return ok
}

// Online 当前在线连接数
func (g *NotifyGateway) Online() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Dropped 本地投递丢弃总数
func (g *NotifyGateway) Dropped() int64 {
	return atomic.LoadInt64(&g.dropped)
}

// CloseAll 关闭所有连接，进程退出时调用
func (g *NotifyGateway) CloseAll() {
	g.mu.Lock()
	clientsCopy := make([]*ClientConn, 0, len(g.clients))
	for _, c := range g.clients {
		clientsCopy = append(clientsCopy, c)
	}
	g.clients = make(map[string]*ClientConn)
	g.mu.Unlock()

	for _, c := range clientsCopy {
		c.Close()
	}
}
