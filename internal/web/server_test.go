package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cryptick/internal/entity"
)

type fakeController struct {
	signals  []entity.ControlSignal
	scraping bool
	trading  bool
	amount   decimal.Decimal
}

func (c *fakeController) Control(sig entity.ControlSignal) { c.signals = append(c.signals, sig) }
func (c *fakeController) Scraping() bool                   { return c.scraping }
func (c *fakeController) Trading() bool                    { return c.trading }
func (c *fakeController) BuyAmount() decimal.Decimal       { return c.amount }
func (c *fakeController) SetBuyAmount(amount decimal.Decimal) error {
	c.amount = amount
	return nil
}

type fakeWallet struct {
	quantities map[string]decimal.Decimal
}

func (w *fakeWallet) Base() string { return "BTC" }
func (w *fakeWallet) Quantity(asset string) decimal.Decimal {
	return w.quantities[asset]
}
func (w *fakeWallet) SetQuantity(asset string, quantity decimal.Decimal) error {
	w.quantities[asset] = quantity
	return nil
}

func newTestServer() (*Server, *fakeController, *fakeWallet) {
	control := &fakeController{amount: decimal.RequireFromString("0.005")}
	wallet := &fakeWallet{quantities: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(1)}}
	return NewServer(":0", control, wallet, nil, zap.NewNop()), control, wallet
}

func TestControlEndpointsApplySignals(t *testing.T) {
	srv, control, _ := newTestServer()
	mux := srv.mux()

	for path, want := range map[string]entity.ControlSignal{
		"/scraper/start": entity.ControlStart,
		"/scraper/stop":  entity.ControlStop,
		"/trader/start":  entity.ControlStartTrading,
		"/trader/stop":   entity.ControlStopTrading,
	} {
		control.signals = nil
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, []entity.ControlSignal{want}, control.signals, path)
	}
}

func TestControlEndpointsRejectGet(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scraper/start", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusReportsGates(t *testing.T) {
	srv, control, _ := newTestServer()
	control.scraping = true

	rec := httptest.NewRecorder()
	srv.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"scraping": true, "trading": false}`, rec.Body.String())
}

func TestWalletGetAndSet(t *testing.T) {
	srv, _, wallet := newTestServer()
	mux := srv.mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"asset":"BTC"`)

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"quantity": "2.5"}`)
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/wallet", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, wallet.quantities["BTC"].Equal(decimal.RequireFromString("2.5")))
}

func TestAmountGetAndSet(t *testing.T) {
	srv, control, _ := newTestServer()
	mux := srv.mux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/amount", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "0.005")

	rec = httptest.NewRecorder()
	body := strings.NewReader(`{"amount": "0.01"}`)
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/amount", body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, control.amount.Equal(decimal.RequireFromString("0.01")))
}

func TestTradesWithoutJournalIsEmptyList(t *testing.T) {
	srv, _, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trades", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}
