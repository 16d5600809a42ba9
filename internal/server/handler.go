package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mixcache/internal/mixnode"
	"mixcache/internal/pagecache"
	"mixcache/internal/upstream"
)

// Directory serves mixnode lookups over the published snapshot
type Directory interface {
	All() []mixnode.MixNodeBond
	ByIdentity(identity string) (mixnode.MixNodeBond, bool)
	ByLayer(layer mixnode.Layer) []mixnode.MixNodeBond
	ByOwner(addr string) []mixnode.MixNodeBond
	TotalBonded(denom string) (*big.Int, error)
}

// StatsProvider reports cache state
type StatsProvider interface {
	Stats() pagecache.Stats
}

// ValidatorStatusProvider reports validator health
type ValidatorStatusProvider interface {
	Status() []upstream.ValidatorStatus
}

// Trigger runs a refresh on demand
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Handler exposes the mixnode directory over HTTP
type Handler struct {
	directory  Directory
	stats      StatsProvider
	validators ValidatorStatusProvider
	trigger    Trigger
	denom      string
	logger     zerolog.Logger
}

// NewHandler creates a new Handler. denom selects the bond denomination
// summed into /status.
func NewHandler(directory Directory, stats StatsProvider, validators ValidatorStatusProvider, trigger Trigger, denom string, logger zerolog.Logger) *Handler {
	return &Handler{
		directory:  directory,
		stats:      stats,
		validators: validators,
		trigger:    trigger,
		denom:      denom,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// Routes builds the chi router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/mixnodes", h.listMixNodes)
	r.Get("/mixnodes/{identity}", h.getMixNode)
	r.Get("/mixnodes/{identity}/stake", h.getMixNodeStake)
	r.Get("/status", h.status)
	r.Post("/refresh", h.refresh)

	return r
}

type mixNodesResponse struct {
	Count int                   `json:"count"`
	Nodes []mixnode.MixNodeBond `json:"nodes"`
}

type statusResponse struct {
	Cache       pagecache.Stats            `json:"cache"`
	Denom       string                     `json:"denom"`
	TotalBonded string                     `json:"totalBonded,omitempty"`
	Validators  []upstream.ValidatorStatus `json:"validators"`
}

type stakeResponse struct {
	Identity   string `json:"identity"`
	Denom      string `json:"denom"`
	Bond       string `json:"bond"`
	Delegation string `json:"delegation"`
	TotalStake string `json:"totalStake"`
}

type errorResponse struct {
	Error          string `json:"error"`
	PagesCompleted *int   `json:"pagesCompleted,omitempty"`
}

func (h *Handler) listMixNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")

	var nodes []mixnode.MixNodeBond
	if raw := q.Get("layer"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 8)
		if err != nil || !mixnode.Layer(n).Valid() {
			h.writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid layer " + strconv.Quote(raw)})
			return
		}
		nodes = h.directory.ByLayer(mixnode.Layer(n))
		if owner != "" {
			nodes = ownedBy(nodes, owner)
		}
	} else if owner != "" {
		nodes = h.directory.ByOwner(owner)
	} else {
		nodes = h.directory.All()
	}

	if nodes == nil {
		nodes = []mixnode.MixNodeBond{}
	}
	h.writeJSON(w, http.StatusOK, mixNodesResponse{Count: len(nodes), Nodes: nodes})
}

func (h *Handler) getMixNode(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	node, ok := h.directory.ByIdentity(identity)
	if !ok {
		h.writeError(w, http.StatusNotFound, errorResponse{Error: "mixnode not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, node)
}

func (h *Handler) getMixNodeStake(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	node, ok := h.directory.ByIdentity(identity)
	if !ok {
		h.writeError(w, http.StatusNotFound, errorResponse{Error: "mixnode not found"})
		return
	}
	total, err := node.TotalStake()
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, stakeResponse{
		Identity:   identity,
		Denom:      node.BondAmount.Denom,
		Bond:       node.BondAmount.Amount,
		Delegation: node.TotalDelegation.Amount,
		TotalStake: total.String(),
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Cache: h.stats.Stats(), Denom: h.denom, Validators: []upstream.ValidatorStatus{}}
	if total, err := h.directory.TotalBonded(h.denom); err != nil {
		h.logger.Warn().Err(err).Str("denom", h.denom).Msg("cannot sum bonded stake")
	} else {
		resp.TotalBonded = total.String()
	}
	if h.validators != nil {
		resp.Validators = h.validators.Status()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	err := h.trigger.Trigger(r.Context())
	if err == nil {
		h.writeJSON(w, http.StatusOK, h.stats.Stats())
		return
	}

	var fetchErr *pagecache.FetchError
	if errors.As(err, &fetchErr) {
		pages := fetchErr.PagesCompleted
		h.writeError(w, http.StatusBadGateway, errorResponse{Error: err.Error(), PagesCompleted: &pages})
		return
	}
	h.writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// writeJSON writes v with the given status code
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, resp errorResponse) {
	h.writeJSON(w, status, resp)
}

// logRequests logs every request once it completes
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

func ownedBy(nodes []mixnode.MixNodeBond, owner string) []mixnode.MixNodeBond {
	out := make([]mixnode.MixNodeBond, 0, len(nodes))
	for _, n := range nodes {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	return out
}
