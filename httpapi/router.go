package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/ledger"
	"go.dedis.ch/htlcswap/logging"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/query"
)

// Trades is the part of swap.Engine exposed over HTTP.
type Trades interface {
	State(ctx context.Context, id eventchain.TradeID) (eventchain.TradeState, error)
	Terminate(id eventchain.TradeID) error
}

type RouterConf struct {
	Queries *lqs.Service
	// Trades is optional; without it the trade routes are not mounted.
	Trades  Trades
	Metrics bool
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	queries *lqs.Service
	trades  Trades
	logger  zerolog.Logger
}

// NewRouter mounts the query registry:
//
//	POST   /queries/:ledger/transactions      register, 201 + Location
//	GET    /queries/:ledger/transactions/:id  query and matching_transactions
//	DELETE /queries/:ledger/transactions/:id  204
func NewRouter(conf RouterConf) *gin.Engine {
	h := &handler{
		queries: conf.Queries,
		trades:  conf.Trades,
		logger:  logging.RootLogger.With().Str("Component", "HTTP").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests)

	queries := r.Group("/queries/:ledger/transactions")
	queries.POST("", h.register)
	queries.GET("/:id", h.get)
	queries.DELETE("/:id", h.delete)

	if conf.Trades != nil {
		r.GET("/trades/:id", h.trade)
		r.DELETE("/trades/:id", h.terminate)
	}
	if conf.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return r
}

func (h *handler) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("request")
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func ledgerParam(c *gin.Context) (ledger.Kind, bool) {
	kind, err := ledger.ParseKind(c.Param("ledger"))
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return 0, false
	}
	return kind, true
}

func location(kind ledger.Kind, id query.ID) string {
	return fmt.Sprintf("/queries/%s/transactions/%s", strings.ToLower(kind.String()), id)
}

// register accepts the ledger's query JSON. A query without any field is
// only accepted with ?wildcard=true.
func (h *handler) register(c *gin.Context) {
	kind, ok := ledgerParam(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	q, err := query.Decode(kind, body)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	var opts []lqs.SaveOption
	if c.Query("wildcard") == "true" {
		opts = append(opts, lqs.AllowWildcard())
	}
	id, err := h.queries.Register(q, opts...)
	if errors.Is(err, lqs.ErrWildcardQuery) || errors.Is(err, query.ErrMalformedQuery) {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Location", location(kind, id))
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// lookup resolves the :id of the route, answering 404 for unknown ids and
// queries of another ledger.
func (h *handler) lookup(c *gin.Context) (query.ID, query.Query, bool) {
	kind, ok := ledgerParam(c)
	if !ok {
		return "", nil, false
	}
	id := query.ID(c.Param("id"))
	q, err := h.queries.Query(id)
	if err == nil && q.Ledger() != kind {
		err = fmt.Errorf("%w: %s is not on %s", lqs.ErrUnknownQuery, id, kind)
	}
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return "", nil, false
	}
	return id, q, true
}

// get answers the query's own fields plus matching_transactions.
func (h *handler) get(c *gin.Context) {
	id, q, ok := h.lookup(c)
	if !ok {
		return
	}
	txids, err := h.queries.Results(id)
	if err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}

	raw, err := json.Marshal(q)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	resp := make(map[string]interface{})
	if err := json.Unmarshal(raw, &resp); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if txids == nil {
		txids = []string{}
	}
	resp["matching_transactions"] = txids
	c.JSON(http.StatusOK, resp)
}

func (h *handler) delete(c *gin.Context) {
	id, _, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.queries.Delete(id); err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func tradeParam(c *gin.Context) (eventchain.TradeID, bool) {
	id, err := eventchain.ParseTradeID(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return "", false
	}
	return id, true
}

func (h *handler) trade(c *gin.Context) {
	id, ok := tradeParam(c)
	if !ok {
		return
	}
	state, err := h.trades.State(c.Request.Context(), id)
	if errors.Is(err, eventchain.ErrUnknownTrade) {
		abort(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handler) terminate(c *gin.Context) {
	id, ok := tradeParam(c)
	if !ok {
		return
	}
	if err := h.trades.Terminate(id); err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	c.Status(http.StatusNoContent)
}
