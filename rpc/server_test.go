package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"lpvault/core/events"
	"lpvault/core/types"
	"lpvault/crypto"
	"lpvault/native/token"
	"lpvault/native/vault"
	"lpvault/state"
	"lpvault/storage"
)

// fixedHandler values every position at a fixed amount and custodies them in
// memory.
type fixedHandler struct {
	ledger    *vault.Ledger
	source    crypto.Address
	amount    *big.Int
	unhealthy bool
	custody   map[string][20]byte
}

func (h *fixedHandler) Source() crypto.Address { return h.source }

func (h *fixedHandler) HandleDeposit(from crypto.Address, positionID *big.Int) ([32]byte, *big.Int, error) {
	h.custody[positionID.String()] = from.Key()
	id := vault.ComputeDepositID(h.ledger.Address(), h.source, from, positionID)
	return id, new(big.Int).Set(h.amount), nil
}

func (h *fixedHandler) HandleWithdraw(to crypto.Address, positionID *big.Int) ([32]byte, error) {
	owner, ok := h.custody[positionID.String()]
	if !ok || owner != to.Key() {
		return [32]byte{}, vault.ErrInvalidWithdraw
	}
	delete(h.custody, positionID.String())
	return vault.ComputeDepositID(h.ledger.Address(), h.source, to, positionID), nil
}

func (h *fixedHandler) Liquidate(positionID *big.Int, owner, liquidator crypto.Address) ([32]byte, *big.Int, error) {
	if !h.unhealthy {
		return [32]byte{}, nil, vault.ErrNotLiquidatable
	}
	delete(h.custody, positionID.String())
	id := vault.ComputeDepositID(h.ledger.Address(), h.source, owner, positionID)
	return id, new(big.Int).Set(h.amount), nil
}

func (h *fixedHandler) Liquidatable(positionID *big.Int, owner crypto.Address) (bool, error) {
	return h.unhealthy, nil
}

func (h *fixedHandler) Valuation(positionID *big.Int) (*vault.Valuation, error) {
	return &vault.Valuation{
		Amount:       new(big.Int).Set(h.amount),
		PrimaryUSD:   new(big.Int).Set(h.amount),
		SecondaryUSD: big.NewInt(0),
	}, nil
}

func (h *fixedHandler) ReceiptCount(owner crypto.Address) (uint64, error) {
	var count uint64
	for _, custodied := range h.custody {
		if custodied == owner.Key() {
			count++
		}
	}
	return count, nil
}

func (h *fixedHandler) ReceiptAt(owner crypto.Address, index uint64) (*big.Int, error) {
	var i uint64
	for id, custodied := range h.custody {
		if custodied != owner.Key() {
			continue
		}
		if i == index {
			out, _ := new(big.Int).SetString(id, 10)
			return out, nil
		}
		i++
	}
	return nil, vault.ErrInvalidPosition
}

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.MustNewAddress(raw)
}

func newTestServer(t *testing.T) (*httptest.Server, *fixedHandler, crypto.Address) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	debtToken := token.NewToken(manager, "vUSD")
	ledger := vault.NewLedger(testAddr(0xAA), debtToken)
	ledger.SetState(manager)

	source := testAddr(0x01)
	handler := &fixedHandler{
		ledger:  ledger,
		source:  source,
		amount:  big.NewInt(100),
		custody: make(map[string][20]byte),
	}
	recorder := events.NewRecorder(0)
	ledger.SetEmitter(recorder)
	require.NoError(t, ledger.AddSource(source, handler, big.NewInt(250)))
	require.NoError(t, manager.Commit())

	server := httptest.NewServer(NewServer(ledger, manager, recorder).Router())
	t.Cleanup(server.Close)
	return server, handler, source
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestDepositAndQuerySurface(t *testing.T) {
	server, _, source := newTestServer(t)
	depositor := testAddr(0x02)

	resp := postJSON(t, server.URL+"/v1/ledger/deposits", mutationRequest{
		Source:     source.String(),
		PositionID: "7",
		Depositor:  depositor.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var deposited depositResponse
	decodeBody(t, resp, &deposited)
	require.Equal(t, "100", deposited.Amount)
	require.Len(t, deposited.DepositID, 64)

	resp, err := http.Get(server.URL + "/v1/ledger/global")
	require.NoError(t, err)
	var global globalResponse
	decodeBody(t, resp, &global)
	require.Equal(t, "100", global.TotalDebt)
	require.Equal(t, "250", global.TotalDebtCeiling)

	resp, err = http.Get(server.URL + "/v1/ledger/sources/" + source.String())
	require.NoError(t, err)
	var src sourceResponse
	decodeBody(t, resp, &src)
	require.Equal(t, "100", src.Debt)
	require.False(t, src.Paused)

	resp, err = http.Get(server.URL + "/v1/ledger/deposits/" + deposited.DepositID)
	require.NoError(t, err)
	var record depositResponse
	decodeBody(t, resp, &record)
	require.Equal(t, depositor.String(), record.Depositor)

	resp, err = http.Get(server.URL + "/v1/ledger/sources/" + source.String() +
		"/owners/" + depositor.String() + "/receipts")
	require.NoError(t, err)
	var receipts struct {
		Count    uint64   `json:"count"`
		Receipts []string `json:"receipts"`
	}
	decodeBody(t, resp, &receipts)
	require.Equal(t, uint64(1), receipts.Count)
	require.Equal(t, []string{"7"}, receipts.Receipts)
}

func TestWithdrawClearsDebt(t *testing.T) {
	server, _, source := newTestServer(t)
	depositor := testAddr(0x02)

	resp := postJSON(t, server.URL+"/v1/ledger/deposits", mutationRequest{
		Source:     source.String(),
		PositionID: "7",
		Depositor:  depositor.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/v1/ledger/withdrawals", mutationRequest{
		Source:     source.String(),
		PositionID: "7",
		Depositor:  depositor.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/ledger/global")
	require.NoError(t, err)
	var global globalResponse
	decodeBody(t, resp, &global)
	require.Equal(t, "0", global.TotalDebt)
}

func TestCeilingViolationMapsToUnprocessable(t *testing.T) {
	server, _, source := newTestServer(t)

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusUnprocessableEntity} {
		resp := postJSON(t, server.URL+"/v1/ledger/deposits", mutationRequest{
			Source:     source.String(),
			PositionID: big.NewInt(int64(i + 1)).String(),
			Depositor:  testAddr(byte(0x10 + i)).String(),
		})
		require.Equal(t, want, resp.StatusCode, "deposit %d", i)
		resp.Body.Close()
	}
}

func TestUnknownSourceMapsToNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/ledger/sources/" + testAddr(0x77).String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiquidatableQuery(t *testing.T) {
	server, handler, source := newTestServer(t)

	url := server.URL + "/v1/ledger/sources/" + source.String() +
		"/positions/7/liquidatable?owner=" + testAddr(0x02).String()
	resp, err := http.Get(url)
	require.NoError(t, err)
	var health map[string]bool
	decodeBody(t, resp, &health)
	require.False(t, health["liquidatable"])

	handler.unhealthy = true
	resp, err = http.Get(url)
	require.NoError(t, err)
	decodeBody(t, resp, &health)
	require.True(t, health["liquidatable"])
}

func TestEventsEndpoint(t *testing.T) {
	server, _, source := newTestServer(t)
	depositor := testAddr(0x02)

	resp := postJSON(t, server.URL+"/v1/ledger/deposits", mutationRequest{
		Source:     source.String(),
		PositionID: "7",
		Depositor:  depositor.String(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/v1/ledger/events")
	require.NoError(t, err)
	var recent []*types.Event
	decodeBody(t, resp, &recent)
	require.Len(t, recent, 2)
	require.Equal(t, vault.TypeSourceAdded, recent[0].Type)
	require.Equal(t, vault.TypeDeposited, recent[1].Type)
	require.Equal(t, depositor.String(), recent[1].Attributes["depositor"])
	require.Equal(t, "100", recent[1].Attributes["amount"])
}

func TestInvalidAddressRejected(t *testing.T) {
	server, _, source := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/ledger/deposits", mutationRequest{
		Source:     source.String(),
		PositionID: "7",
		Depositor:  "not-an-address",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
