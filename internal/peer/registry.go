// Пакет peer — реестр пиров онлайн и канал регистрации поверх WebSocket.
//
// Реестр хранит соответствие peerId → канал. Повторная регистрация того же
// peerId перезаписывает прежний канал (побеждает последняя). Закрытие канала
// удаляет все записи, указывающие на него.
package peer

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_peers_online",
		Help: "Количество зарегистрированных пиров.",
	})

	peerRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_peer_registrations_total",
		Help: "Общее количество регистраций пиров (new, rebind).",
	}, []string{"kind"})
)

// Channel — живое соединение пира.
// Два канала равны, если совпадает ID.
type Channel interface {
	ID() string
}

// Entry — запись реестра.
type Entry struct {
	PeerID    string
	ChannelID string
}

// Registry — потокобезопасная таблица peerId → канал.
type Registry struct {
	mu     sync.Mutex
	peers  map[string]Channel
	logger *slog.Logger
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		peers:  make(map[string]Channel),
		logger: logger.With(slog.String("component", "peer_registry")),
	}
}

// OnConnect вызывается при открытии канала. Запись не создаётся до регистрации.
func (r *Registry) OnConnect(ch Channel) {
	r.logger.Debug("Канал пира открыт", slog.String("channel_id", ch.ID()))
}

// OnRegister привязывает peerID к каналу, перезаписывая прежнюю привязку.
func (r *Registry) OnRegister(ch Channel, peerID string) {
	r.mu.Lock()
	prev, existed := r.peers[peerID]
	r.peers[peerID] = ch
	n := len(r.peers)
	r.mu.Unlock()

	peersOnline.Set(float64(n))

	attrs := []any{
		slog.String("peer_id", peerID),
		slog.String("channel_id", ch.ID()),
	}
	if existed && prev.ID() != ch.ID() {
		peerRegistrationsTotal.WithLabelValues("rebind").Inc()
		r.logger.Info("Пир перепривязан к новому каналу",
			append(attrs, slog.String("previous_channel_id", prev.ID()))...)
		return
	}
	peerRegistrationsTotal.WithLabelValues("new").Inc()
	r.logger.Info("Пир зарегистрирован", attrs...)
}

// OnClose удаляет все записи, привязанные к закрывающемуся каналу.
// Для канала без регистрации ничего не меняется.
func (r *Registry) OnClose(ch Channel) {
	r.mu.Lock()
	var removed []string
	for peerID, c := range r.peers {
		if c.ID() == ch.ID() {
			delete(r.peers, peerID)
			removed = append(removed, peerID)
		}
	}
	n := len(r.peers)
	r.mu.Unlock()

	peersOnline.Set(float64(n))
	for _, peerID := range removed {
		r.logger.Info("Пир отключён",
			slog.String("peer_id", peerID),
			slog.String("channel_id", ch.ID()),
		)
	}
}

// Lookup возвращает канал пира.
func (r *Registry) Lookup(peerID string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.peers[peerID]
	return ch, ok
}

// Peers возвращает снимок реестра, отсортированный по PeerID.
func (r *Registry) Peers() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.peers))
	for peerID, ch := range r.peers {
		out = append(out, Entry{PeerID: peerID, ChannelID: ch.ID()})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Len возвращает число записей.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
