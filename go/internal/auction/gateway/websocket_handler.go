package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/identity"
	"github.com/char-123717/lelang/go/internal/models"
)

// errIdentityUnavailable hides backend details of a failed identity check from clients.
var errIdentityUnavailable = errors.New("identity service unavailable")

// WebSocketHandler classifies upgrade requests into lobby observers and auction
// participants, authenticates participants and replays current state on join.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	store             *store.Store
	verifier          identity.Verifier
	clock             clockwork.Clock
	defaultAuction    string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, st *store.Store, verifier identity.Verifier, clock clockwork.Clock) *WebSocketHandler {
	var defaultAuction string
	if ids := st.IDs(); len(ids) > 0 {
		defaultAuction = ids[0]
	}
	return &WebSocketHandler{
		connectionManager: cm,
		store:             st,
		verifier:          verifier,
		clock:             clock,
		defaultAuction:    defaultAuction,
	}
}

// HandleAuctionConnection handles GET /ws/auction?id=<lobby|auctionId>
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	room := q.Get("id")
	if room == "" {
		room = h.defaultAuction
	}

	if room == models.LobbyRoom {
		h.upgrade(w, r, JoinRequest{
			Room: models.LobbyRoom,
			Name: q.Get("name"),
			Mode: ModeLobby,
		}, h.lobbyReplay)
		return
	}

	id, err := h.verifier.Verify(r.Context(), identity.BearerToken(r))
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUnverified):
			log.Debug().Err(err).Str("auction_id", room).Msg("rejected unverified account")
			writeJSONError(w, http.StatusForbidden, err)
		case errors.Is(err, identity.ErrUnauthenticated):
			log.Debug().Err(err).Str("auction_id", room).Msg("rejected unauthenticated connection")
			writeJSONError(w, http.StatusUnauthorized, err)
		default:
			log.Warn().Err(err).Str("auction_id", room).Msg("identity check unavailable")
			writeJSONError(w, http.StatusServiceUnavailable, errIdentityUnavailable)
		}
		return
	}

	if !h.store.Has(room) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": store.ErrUnknownAuction.Error()})
		return
	}

	mode := ModeWatch
	if Mode(q.Get("mode")) == ModeBid {
		mode = ModeBid
	}
	name := q.Get("name")
	if name == "" {
		name = id.Email
	}

	h.upgrade(w, r, JoinRequest{
		Room:          room,
		Name:          name,
		Mode:          mode,
		Subject:       id.Subject,
		WalletAddress: q.Get("walletAddress"),
	}, func() []*events.Event { return h.auctionReplay(room) })
}

func (h *WebSocketHandler) upgrade(w http.ResponseWriter, r *http.Request, join JoinRequest, replay func() []*events.Event) {
	// Upgrade writes its own error response on failure.
	if _, err := h.connectionManager.UpgradeConnection(w, r, join, replay); err != nil {
		log.Error().
			Err(err).
			Str("room", join.Room).
			Msg("failed to upgrade WebSocket connection")
	}
}

// lobbyReplay returns one auctionStateUpdate per configured auction.
func (h *WebSocketHandler) lobbyReplay() []*events.Event {
	now := h.clock.Now()
	snaps := h.store.All()
	out := make([]*events.Event, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, events.NewEvent(events.NewAuctionStateUpdate(snap, now), now))
	}
	return out
}

// auctionReplay returns the highest bid, ranked history and timer of one auction.
func (h *WebSocketHandler) auctionReplay(auctionID string) []*events.Event {
	snap, err := h.store.Get(auctionID)
	if err != nil {
		return nil
	}
	now := h.clock.Now()
	return []*events.Event{
		events.NewEvent(events.NewHighestBidUpdate(snap), now),
		events.NewEvent(events.NewBidHistoryUpdate(snap.BidHistory), now),
		events.NewEvent(events.NewTimerUpdate(snap, now), now),
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": err.Error()})
}
