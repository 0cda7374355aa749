package relay

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/metrics"
	"github.com/quickpayplatform/autocue/internal/models"
)

// Socket timing and size limits.
const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMsgSize        = 1 << 16 // 64 KB
	storeTimeout      = 5 * time.Second
	defaultSendBuffer = 16
)

// NodeStore persists node liveness. Implemented by the node repository.
type NodeStore interface {
	ListTokens(ctx context.Context) ([]models.NodeToken, error)
	SetStatus(ctx context.Context, nodeID, status string, seenAt time.Time) error
	RecordHeartbeat(ctx context.Context, nodeID string, hb models.Heartbeat, seenAt time.Time) error
}

// ResultHandler receives command.result frames sent by nodes.
type ResultHandler func(nodeID string, res CommandResult)

// Registry tracks live relay sessions, one per node. Mutations for a given
// node (attach, heartbeat, detach) are serialized by a per-node lock so a
// closing socket cannot mark a freshly reconnected node offline.
type Registry struct {
	store      NodeStore
	log        *logger.Logger
	sendBuffer int
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	onResult ResultHandler
}

// NewRegistry builds an empty registry. sendBuffer bounds the per-session
// outbound queue; a full queue counts as "not delivered".
func NewRegistry(store NodeStore, log *logger.Logger, sendBuffer int) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		store:      store,
		log:        log,
		sendBuffer: sendBuffer,
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   make(map[string]*session),
		locks:      make(map[string]*sync.Mutex),
	}
}

// OnResult installs the handler for command.result frames.
func (r *Registry) OnResult(fn ResultHandler) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Authenticate matches token against every stored node hash and returns the
// owning node. All hashes are checked so timing does not reveal position.
func (r *Registry) Authenticate(ctx context.Context, token string) (string, bool) {
	if token == "" {
		metrics.RelayAuthFailures.Inc()
		return "", false
	}
	tokens, err := r.store.ListTokens(ctx)
	if err != nil {
		r.log.Errorw("relay_list_tokens_failed", "err", err)
		return "", false
	}
	var nodeID string
	for _, t := range tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(token)) == nil && nodeID == "" {
			nodeID = t.NodeID
		}
	}
	if nodeID == "" {
		metrics.RelayAuthFailures.Inc()
		return "", false
	}
	return nodeID, true
}

// Serve runs an authenticated node connection until it closes. The node is
// online for exactly the lifetime of the call.
func (r *Registry) Serve(ctx context.Context, nodeID string, conn *websocket.Conn) {
	sess := newSession(nodeID, conn, r.sendBuffer)
	r.attach(ctx, sess)
	defer r.detach(sess)

	go sess.writeLoop(r.log)
	sess.readLoop(func(env Envelope) { r.handle(ctx, sess, env) }, r.log)
}

// SendCommand hands env to the node's session. It never blocks or queues for
// an absent node: false means not delivered.
func (r *Registry) SendCommand(nodeID string, env Envelope) bool {
	r.mu.RLock()
	sess := r.sessions[nodeID]
	r.mu.RUnlock()
	if sess == nil {
		metrics.RelayDispatches.WithLabelValues(env.Type, metrics.ResultNoSession).Inc()
		return false
	}

	b, err := json.Marshal(env)
	if err != nil {
		r.log.Errorw("relay_encode_failed", "node_id", nodeID, "type", env.Type, "err", err)
		return false
	}
	if !sess.enqueue(b) {
		r.log.Warnw("relay_send_buffer_full", "node_id", nodeID, "type", env.Type)
		metrics.RelayDispatches.WithLabelValues(env.Type, metrics.ResultBackedUp).Inc()
		return false
	}
	metrics.RelayDispatches.WithLabelValues(env.Type, metrics.ResultDelivered).Inc()
	return true
}

// IsOnline reports whether nodeID has a live session.
func (r *Registry) IsOnline(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[nodeID]
	return ok
}

// Online lists node ids with live sessions.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every live session.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	live := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()
	for _, s := range live {
		s.close()
	}
}

func (r *Registry) nodeLock(nodeID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[nodeID] = l
	}
	return l
}

func (r *Registry) attach(ctx context.Context, sess *session) {
	l := r.nodeLock(sess.nodeID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	prev := r.sessions[sess.nodeID]
	r.sessions[sess.nodeID] = sess
	r.mu.Unlock()

	if prev != nil {
		r.log.Infow("relay_session_replaced", "node_id", sess.nodeID)
		prev.close()
	} else {
		metrics.RelaySessions.Inc()
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.store.SetStatus(sctx, sess.nodeID, models.NodeStatusOnline, r.now()); err != nil {
		r.log.Errorw("relay_mark_online_failed", "node_id", sess.nodeID, "err", err)
	}
	r.log.Infow("relay_session_opened", "node_id", sess.nodeID)
}

func (r *Registry) detach(sess *session) {
	sess.close()

	l := r.nodeLock(sess.nodeID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	current := r.sessions[sess.nodeID] == sess
	if current {
		delete(r.sessions, sess.nodeID)
	}
	r.mu.Unlock()

	if !current {
		return
	}
	metrics.RelaySessions.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.SetStatus(ctx, sess.nodeID, models.NodeStatusOffline, r.now()); err != nil {
		r.log.Errorw("relay_mark_offline_failed", "node_id", sess.nodeID, "err", err)
	}
	r.log.Infow("relay_session_closed", "node_id", sess.nodeID)
}

func (r *Registry) handle(ctx context.Context, sess *session, env Envelope) {
	switch env.Type {
	case TypeHeartbeat, TypeHello:
		var hb Heartbeat
		if env.Type == TypeHeartbeat {
			if err := env.Decode(&hb); err != nil {
				r.log.Warnw("relay_bad_heartbeat", "node_id", sess.nodeID, "err", err)
				return
			}
		} else {
			var hello Hello
			_ = env.Decode(&hello)
			hb = Heartbeat{Version: hello.Version, Status: models.NodeStatusOnline}
			r.log.Infow("relay_node_hello", "node_id", sess.nodeID, "version", hello.Version)
		}
		r.touch(ctx, sess, hb)
	case TypeCommandResult:
		var res CommandResult
		if err := env.Decode(&res); err != nil {
			r.log.Warnw("relay_bad_result", "node_id", sess.nodeID, "err", err)
			return
		}
		r.log.Infow("relay_command_result", "node_id", sess.nodeID, "id", res.ID, "ok", res.OK, "error", res.Error)
		r.mu.RLock()
		fn := r.onResult
		r.mu.RUnlock()
		if fn != nil {
			fn(sess.nodeID, res)
		}
	default:
		r.log.Debugw("relay_unknown_message", "node_id", sess.nodeID, "type", env.Type)
	}
}

// touch refreshes last-seen while sess is still the node's current session.
func (r *Registry) touch(ctx context.Context, sess *session, hb Heartbeat) {
	l := r.nodeLock(sess.nodeID)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	current := r.sessions[sess.nodeID] == sess
	r.mu.RUnlock()
	if !current {
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.store.RecordHeartbeat(sctx, sess.nodeID, hb, r.now()); err != nil {
		r.log.Errorw("relay_heartbeat_store_failed", "node_id", sess.nodeID, "err", err)
	}
}
