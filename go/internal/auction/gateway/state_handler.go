package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/char-123717/lelang/go/internal/auction/events"
	"github.com/char-123717/lelang/go/internal/auction/metrics"
	"github.com/char-123717/lelang/go/internal/auction/store"
	"github.com/char-123717/lelang/go/internal/models"
)

// Reconciler schedules reconciliation passes.
type Reconciler interface {
	TriggerAfter(auctionID string, d time.Duration, source string)
}

// Emitter delivers events to every connection in a room.
type Emitter interface {
	BroadcastToRoom(room string, event *events.Event)
}

// AuctionDetails is the query view of one auction.
type AuctionDetails struct {
	OK              bool    `json:"ok"`
	AuctionID       string  `json:"auctionId"`
	Name            string  `json:"name,omitempty"`
	ContractAddress string  `json:"contractAddress"`
	MinBid          float64 `json:"minBid"`
	MinBidExact     string  `json:"minBidExact"`
	HighestBid      float64 `json:"highestBid"`
	HighestBidExact string  `json:"highestBidExact"`
	HighestBidder   string  `json:"highestBidder"`
	AuctionEndTime  int64   `json:"auctionEndTime"`
	Ended           bool    `json:"ended"`
}

// AuctionSummary is one row of the auction list.
type AuctionSummary struct {
	events.AuctionStateUpdatePayload
	Name string `json:"name"`
}

// WithdrawnRequest is the body of POST /api/withdrawn.
type WithdrawnRequest struct {
	WalletAddress string `json:"walletAddress"`
	AuctionID     string `json:"auctionId"`
}

// StateHandler serves auction queries and withdrawal notifications
type StateHandler struct {
	store          *store.Store
	emitter        Emitter
	reconciler     Reconciler
	clock          clockwork.Clock
	settleDelay    time.Duration
	defaultAuction string
}

// NewStateHandler creates a new state handler. settleDelay is how long after a
// withdrawal notice the confirming reconciliation runs.
func NewStateHandler(st *store.Store, emitter Emitter, reconciler Reconciler, clock clockwork.Clock, settleDelay time.Duration) *StateHandler {
	var defaultAuction string
	if ids := st.IDs(); len(ids) > 0 {
		defaultAuction = ids[0]
	}
	return &StateHandler{
		store:          st,
		emitter:        emitter,
		reconciler:     reconciler,
		clock:          clock,
		settleDelay:    settleDelay,
		defaultAuction: defaultAuction,
	}
}

// Details returns the query view of one auction.
func (h *StateHandler) Details(auctionID string) (AuctionDetails, error) {
	if auctionID == "" {
		auctionID = h.defaultAuction
	}
	snap, err := h.store.Get(auctionID)
	if err != nil {
		return AuctionDetails{}, err
	}
	var endTime int64
	if !snap.AuctionEndTime.IsZero() {
		endTime = snap.AuctionEndTime.Unix()
	}
	return AuctionDetails{
		OK:              true,
		AuctionID:       snap.AuctionID,
		Name:            snap.Name,
		ContractAddress: snap.ContractAddress,
		MinBid:          snap.MinBid.InexactFloat64(),
		MinBidExact:     snap.MinBid.String(),
		HighestBid:      snap.HighestBid.InexactFloat64(),
		HighestBidExact: snap.HighestBid.String(),
		HighestBidder:   snap.HighestBidder,
		AuctionEndTime:  endTime,
		Ended:           snap.Ended,
	}, nil
}

// HandleAuctionDetails handles GET /api/auction-details?id=
func (h *StateHandler) HandleAuctionDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	details, err := h.Details(r.URL.Query().Get("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// HandleListAuctions handles GET /api/auctions
func (h *StateHandler) HandleListAuctions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	now := h.clock.Now()
	snaps := h.store.All()
	out := make([]AuctionSummary, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, AuctionSummary{
			AuctionStateUpdatePayload: events.NewAuctionStateUpdate(snap, now),
			Name:                      snap.Name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleWithdrawn handles POST /api/withdrawn. The bidder's displayed amount is
// zeroed at once and a confirming reconciliation is scheduled.
func (h *StateHandler) HandleWithdrawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WithdrawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
		return
	}
	if req.WalletAddress == "" || req.AuctionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "walletAddress and auctionId are required"})
		return
	}

	history, found, err := h.store.ZeroEntry(req.AuctionID, req.WalletAddress)
	if err != nil {
		if errors.Is(err, store.ErrUnknownAuction) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false})
			return
		}
		log.Error().Err(err).Str("auction_id", req.AuctionID).Msg("failed to apply withdrawal")
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	log.Info().
		Str("auction_id", req.AuctionID).
		Str("wallet", models.ShortAddress(req.WalletAddress)).
		Bool("found", found).
		Msg("withdrawal notice received")

	now := h.clock.Now()
	h.emitter.BroadcastToRoom(req.AuctionID, events.NewEvent(events.NewBidHistoryUpdate(history), now))
	h.reconciler.TriggerAfter(req.AuctionID, h.settleDelay, metrics.SourceWithdraw)

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auction-details", h.HandleAuctionDetails)
	mux.HandleFunc("/api/auctions", h.HandleListAuctions)
	mux.HandleFunc("/api/withdrawn", h.HandleWithdrawn)
}
