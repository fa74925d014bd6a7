package dev

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReloadPath is the WebSocket endpoint the client script connects to.
const ReloadPath = "/_assetpipe/reload"

const writeTimeout = 5 * time.Second

// ReloadMessageType represents the type of reload message.
type ReloadMessageType string

const (
	ReloadTypeFull  ReloadMessageType = "reload"
	ReloadTypeCSS   ReloadMessageType = "css"
	ReloadTypeError ReloadMessageType = "error"
	ReloadTypeClear ReloadMessageType = "clear"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Type  ReloadMessageType `json:"type"`
	Error string            `json:"error,omitempty"`
	File  string            `json:"file,omitempty"`
}

// ReloadObserver receives reload broadcasts and client count changes.
type ReloadObserver interface {
	ObserveReload(msgType string)
	SetReloadClients(n int)
}

// ReloadServer manages WebSocket connections for hot reload.
type ReloadServer struct {
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
	observer ReloadObserver
}

// ReloadOptions configures a ReloadServer.
type ReloadOptions struct {
	// Logger receives connection logs. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Observer is notified of broadcasts. Optional.
	Observer ReloadObserver
}

// NewReloadServer creates a new reload server.
func NewReloadServer(options ReloadOptions) *ReloadServer {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadServer{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
		logger:   logger,
		observer: options.Observer,
	}
}

// HandleWebSocket handles WebSocket upgrade and connection.
func (r *ReloadServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	r.mu.Lock()
	r.clients[conn] = &sync.Mutex{}
	n := len(r.clients)
	r.clientsChanged(n)
	r.mu.Unlock()
	r.logger.Debug("browser connected", "clients", n)

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.remove(conn)
}

// NotifyReload sends a full page reload message to all clients.
func (r *ReloadServer) NotifyReload() {
	r.broadcast(ReloadMessage{Type: ReloadTypeFull})
}

// NotifyCSS sends a CSS-only reload message to all clients.
func (r *ReloadServer) NotifyCSS(file string) {
	r.broadcast(ReloadMessage{Type: ReloadTypeCSS, File: file})
}

// NotifyError sends an error message to all clients.
func (r *ReloadServer) NotifyError(errMsg string) {
	r.broadcast(ReloadMessage{Type: ReloadTypeError, Error: errMsg})
}

// ClearError clears the error overlay on all clients.
func (r *ReloadServer) ClearError() {
	r.broadcast(ReloadMessage{Type: ReloadTypeClear})
}

// broadcast sends a message to all connected clients. Clients that fail
// the write are dropped.
func (r *ReloadServer) broadcast(msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if r.observer != nil {
		r.observer.ObserveReload(string(msg.Type))
	}

	r.mu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(r.clients))
	for client, wmu := range r.clients {
		clients[client] = wmu
	}
	r.mu.RUnlock()

	for client, wmu := range clients {
		wmu.Lock()
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := client.WriteMessage(websocket.TextMessage, data)
		wmu.Unlock()
		if err != nil {
			r.remove(client)
		}
	}
}

func (r *ReloadServer) remove(conn *websocket.Conn) {
	r.mu.Lock()
	if _, ok := r.clients[conn]; ok {
		delete(r.clients, conn)
		r.clientsChanged(len(r.clients))
	}
	r.mu.Unlock()

	conn.Close()
}

// clientsChanged reports the client count. Callers hold r.mu.
func (r *ReloadServer) clientsChanged(n int) {
	if r.observer != nil {
		r.observer.SetReloadClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	for client := range r.clients {
		client.Close()
		delete(r.clients, client)
	}
	r.clientsChanged(0)
	r.mu.Unlock()
}

// DevClientScript returns the JavaScript for hot reload.
// The dev server injects it into every HTML response.
const DevClientScript = `
<script>
(function() {
    'use strict';

    var reconnectDelay = 1000;
    var maxReconnectDelay = 30000;
    var ws = null;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        ws = new WebSocket(protocol + '//' + location.host + '/_assetpipe/reload');

        ws.onopen = function() {
            console.log('[assetpipe] Hot reload connected');
            reconnectDelay = 1000;
            clearErrorOverlay();
        };

        ws.onmessage = function(e) {
            var msg;
            try {
                msg = JSON.parse(e.data);
            } catch (err) {
                return;
            }

            switch (msg.type) {
                case 'reload':
                    console.log('[assetpipe] Reloading...');
                    location.reload();
                    break;

                case 'css':
                    console.log('[assetpipe] Reloading CSS...');
                    reloadCSS();
                    break;

                case 'error':
                    console.error('[assetpipe] Build error:', msg.error);
                    showErrorOverlay(msg.error);
                    break;

                case 'clear':
                    clearErrorOverlay();
                    break;
            }
        };

        ws.onclose = function() {
            console.log('[assetpipe] Connection lost, reconnecting in', reconnectDelay + 'ms');
            setTimeout(function() {
                reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
                connect();
            }, reconnectDelay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    function reloadCSS() {
        var links = document.querySelectorAll('link[rel="stylesheet"]');
        links.forEach(function(link) {
            var url = new URL(link.href);
            url.searchParams.set('_reload', Date.now());
            link.href = url.toString();
        });
    }

    function showErrorOverlay(error) {
        clearErrorOverlay();

        var overlay = document.createElement('div');
        overlay.id = 'assetpipe-error-overlay';
        overlay.style.cssText = 'position:fixed;top:0;left:0;right:0;bottom:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:999999;';

        var content = document.createElement('div');
        content.style.cssText = 'max-width:800px;margin:0 auto;';

        var title = document.createElement('h2');
        title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
        title.textContent = 'Build Error';

        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;word-wrap:break-word;background:#1a1a1a;padding:20px;border-radius:8px;border:1px solid #333;';
        pre.textContent = error;

        var hint = document.createElement('p');
        hint.style.cssText = 'margin-top:20px;color:#888;';
        hint.textContent = 'Fix the error and save to reload.';

        content.appendChild(title);
        content.appendChild(pre);
        content.appendChild(hint);
        overlay.appendChild(content);
        document.body.appendChild(overlay);
    }

    function clearErrorOverlay() {
        var overlay = document.getElementById('assetpipe-error-overlay');
        if (overlay) {
            overlay.remove();
        }
    }

    // Connect on load
    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
</script>
`
