// peers.go — реестр пиров онлайн: снимок и WebSocket-канал регистрации.
package handlers

import (
	"net/http"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/generated"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/peer"
)

// PeerDirectory — снимок реестра пиров.
type PeerDirectory interface {
	Peers() []peer.Entry
}

// PeersHandler — обработчик endpoints пиров.
type PeersHandler struct {
	registry PeerDirectory
	channels http.Handler
}

// NewPeersHandler создаёт обработчик endpoints пиров.
// channels обслуживает upgrade до WebSocket (peer.Hub).
func NewPeersHandler(registry PeerDirectory, channels http.Handler) *PeersHandler {
	return &PeersHandler{registry: registry, channels: channels}
}

// ListPeers обрабатывает GET /api/v1/peers.
func (h *PeersHandler) ListPeers(w http.ResponseWriter, _ *http.Request) {
	entries := h.registry.Peers()
	resp := generated.PeerList{
		Peers: make([]generated.Peer, 0, len(entries)),
		Total: len(entries),
	}
	for _, e := range entries {
		resp.Peers = append(resp.Peers, generated.Peer{PeerId: e.PeerID, ChannelId: e.ChannelID})
	}
	writeJSON(w, http.StatusOK, resp)
}

// PeerChannel обрабатывает GET /ws/peers.
func (h *PeersHandler) PeerChannel(w http.ResponseWriter, r *http.Request) {
	h.channels.ServeHTTP(w, r)
}
