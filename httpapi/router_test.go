package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/eventchain"
	"go.dedis.ch/htlcswap/lqs"
	"go.dedis.ch/htlcswap/query"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(trades Trades) (*gin.Engine, *lqs.TransactionProcessor) {
	queries := lqs.NewQueryRepository()
	results := lqs.NewResultRepository()
	processor := lqs.NewTransactionProcessor(lqs.TransactionProcessorConf{Queries: queries, Results: results})
	return NewRouter(RouterConf{Queries: lqs.NewService(queries, results), Trades: trades, Metrics: true}), processor
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestQueries_RegisterAndMatch(t *testing.T) {
	r, processor := newRouter(nil)

	contract := common.HexToAddress("0x5e0a0f3e3f3b6a4a2f5f1b7dcb4a7a6e0d5e9c11")
	body := `{"to_address":"` + contract.Hex() + `","is_contract_creation":false,"transaction_data":"0x"}`

	rec := do(r, http.MethodPost, "/queries/ethereum/transactions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/queries/ethereum/transactions/"), loc)

	rec = do(r, http.MethodGet, loc, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []interface{}{}, resp["matching_transactions"])
	require.Equal(t, false, resp["is_contract_creation"])

	match := &query.EthereumTransaction{Hash: common.Hash{1}, From: common.HexToAddress("0x01"), To: &contract, Input: []byte{}}
	other := common.HexToAddress("0x02")
	unrelated := &query.EthereumTransaction{Hash: common.Hash{2}, From: common.HexToAddress("0x01"), To: &other, Input: []byte{}}
	processor.Process(match)
	processor.Process(unrelated)

	rec = do(r, http.MethodGet, loc, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []interface{}{match.TxID()}, resp["matching_transactions"])

	rec = do(r, http.MethodDelete, loc, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(r, http.MethodGet, loc, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueries_Errors(t *testing.T) {
	r, _ := newRouter(nil)

	cases := map[string]struct {
		method, path, body string
		status             int
	}{
		"unknown ledger":    {http.MethodPost, "/queries/dogecoin/transactions", `{}`, http.StatusNotFound},
		"malformed json":    {http.MethodPost, "/queries/bitcoin/transactions", `{"to_address":`, http.StatusBadRequest},
		"unknown field":     {http.MethodPost, "/queries/bitcoin/transactions", `{"to_adress":"x"}`, http.StatusBadRequest},
		"implicit wildcard": {http.MethodPost, "/queries/bitcoin/transactions", `{}`, http.StatusBadRequest},
		"unknown query":     {http.MethodGet, "/queries/bitcoin/transactions/nope", "", http.StatusNotFound},
		"delete unknown":    {http.MethodDelete, "/queries/bitcoin/transactions/nope", "", http.StatusNotFound},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(r, c.method, c.path, c.body)
			require.Equal(t, c.status, rec.Code)
			require.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestQueries_Wildcard(t *testing.T) {
	r, _ := newRouter(nil)

	rec := do(r, http.MethodPost, "/queries/bitcoin/transactions?wildcard=true", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// a bitcoin query isn't reachable under the ethereum path
	loc := rec.Header().Get("Location")
	rec = do(r, http.MethodGet, strings.Replace(loc, "bitcoin", "ethereum", 1), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeTrades struct {
	states     map[eventchain.TradeID]eventchain.TradeState
	terminated []eventchain.TradeID
}

func (f *fakeTrades) State(_ context.Context, id eventchain.TradeID) (eventchain.TradeState, error) {
	s, ok := f.states[id]
	if !ok {
		return eventchain.TradeState{}, eventchain.ErrUnknownTrade
	}
	return s, nil
}

func (f *fakeTrades) Terminate(id eventchain.TradeID) error {
	if _, ok := f.states[id]; !ok {
		return eventchain.ErrUnknownTrade
	}
	f.terminated = append(f.terminated, id)
	return nil
}

func TestTrades(t *testing.T) {
	id := eventchain.NewTradeID()
	trades := &fakeTrades{states: map[eventchain.TradeID]eventchain.TradeState{
		id: {ID: id, Phase: eventchain.TradeFunded},
	}}
	r, _ := newRouter(trades)

	rec := do(r, http.MethodGet, "/trades/"+string(id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, string(eventchain.TradeFunded), state["Phase"])

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/trades/not-a-uuid", "").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/trades/"+string(eventchain.NewTradeID()), "").Code)

	require.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/trades/"+string(id), "").Code)
	require.Equal(t, []eventchain.TradeID{id}, trades.terminated)
}

func TestMetricsRoute(t *testing.T) {
	r, _ := newRouter(nil)

	rec := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
