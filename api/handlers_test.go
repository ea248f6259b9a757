package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/loyalty-engine/loyalty"
	"github.com/meridian/loyalty-engine/store/memory"
)

// testServer wires the full router over a memory store with a pinned clock.
func testServer(t *testing.T, now time.Time) *httptest.Server {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	engine := loyalty.NewEngine(memory.NewTx(), loyalty.NewFixedCalendar(now, loc),
		loyalty.DefaultCashbackPolicy(), loyalty.DefaultMembershipPolicy())
	srv := httptest.NewServer(NewRouter(NewHandler(engine)))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func registerViaAPI(t *testing.T, srv *httptest.Server) MemberDTO {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/members", RegisterMemberRequest{Name: "Test Member"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[MemberDTO](t, resp)
}

func payViaAPI(t *testing.T, srv *httptest.Server, memberID string, paidAt time.Time) MembershipPaymentDTO {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/members/"+memberID+"/membership",
		PayMembershipRequest{Amount: "35000", PaidAt: paidAt.Format(time.RFC3339)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[MembershipPaymentDTO](t, resp)
}

var testNow = time.Date(2025, time.June, 15, 11, 0, 0, 0, time.FixedZone("WIB", 7*3600))

// =============================================================================
// MEMBERS
// =============================================================================

func TestAPI_RegisterAndGetMember(t *testing.T) {
	srv := testServer(t, testNow)

	m := registerViaAPI(t, srv)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Test Member", m.Name)
	assert.False(t, m.Active, "fresh members are inactive")

	resp, err := http.Get(srv.URL + "/api/members/" + m.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[MemberDTO](t, resp)
	assert.Equal(t, m.ID, got.ID)
}

func TestAPI_RegisterMember_MissingName(t *testing.T) {
	srv := testServer(t, testNow)

	resp := postJSON(t, srv.URL+"/api/members", RegisterMemberRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetMember_Unknown(t *testing.T) {
	srv := testServer(t, testNow)

	resp, err := http.Get(srv.URL + "/api/members/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ArchiveMember(t *testing.T) {
	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/members/"+m.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// =============================================================================
// PURCHASES AND BALANCE
// =============================================================================

func TestAPI_PurchaseFlow(t *testing.T) {
	// GIVEN: an active member
	// WHEN: posting a 15,000 cash purchase
	// THEN: the response shows the earn and the balance shows it pending

	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)
	payViaAPI(t, srv, m.ID, testNow.AddDate(0, 0, -5))

	resp := postJSON(t, srv.URL+"/api/members/"+m.ID+"/purchases",
		PostPurchaseRequest{Total: "15000"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[PurchaseDTO](t, resp)
	assert.Equal(t, "15000", p.PaidCash)
	assert.Equal(t, "2500", p.CashbackEarned)
	assert.Equal(t, "2025-06-15", p.DayKey)

	resp2, err := http.Get(srv.URL + "/api/members/" + m.ID + "/balance")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	bal := decode[BalanceDTO](t, resp2)
	assert.Equal(t, "0", bal.Usable)
	assert.Equal(t, "2500", bal.Pending)
}

func TestAPI_Purchase_InvalidBodies(t *testing.T) {
	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)
	base := srv.URL + "/api/members/" + m.ID + "/purchases"

	tests := []struct {
		name string
		body PostPurchaseRequest
	}{
		{"missing total", PostPurchaseRequest{}},
		{"garbage total", PostPurchaseRequest{Total: "abc"}},
		{"garbage cashback", PostPurchaseRequest{Total: "1000", CashbackToUse: "x"}},
		{"garbage timestamp", PostPurchaseRequest{Total: "1000", At: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, base, tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_ErrorStatusMapping(t *testing.T) {
	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)

	// Inactive member spending cashback: 403.
	resp := postJSON(t, srv.URL+"/api/members/"+m.ID+"/purchases",
		PostPurchaseRequest{Total: "10000", CashbackToUse: "1000"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Active member overdrawing cashback: 402.
	payViaAPI(t, srv, m.ID, testNow.AddDate(0, 0, -5))
	resp = postJSON(t, srv.URL+"/api/members/"+m.ID+"/purchases",
		PostPurchaseRequest{Total: "10000", CashbackToUse: "1000"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	resp.Body.Close()

	// Negative amount: 400.
	resp = postJSON(t, srv.URL+"/api/members/"+m.ID+"/purchases",
		PostPurchaseRequest{Total: "-5"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Undo with empty history (after undoing the one payment): 409.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/members/"+m.ID+"/membership/last", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(req.Clone(req.Context()))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

func TestAPI_MembershipPayAndHistory(t *testing.T) {
	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)

	payment := payViaAPI(t, srv, m.ID, testNow)
	assert.Nil(t, payment.PreviousEndAt)

	wantEnd := testNow.AddDate(0, 0, 30)
	gotEnd, err := time.Parse(time.RFC3339, payment.NewEndAt)
	require.NoError(t, err)
	assert.True(t, gotEnd.Equal(wantEnd), "NewEndAt = %s, want %s", payment.NewEndAt, wantEnd)

	resp, err := http.Get(srv.URL + "/api/members/" + m.ID + "/membership")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]MembershipPaymentDTO](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, payment.ID, history[0].ID)

	// The member now shows active.
	resp2, err := http.Get(srv.URL + "/api/members/" + m.ID)
	require.NoError(t, err)
	got := decode[MemberDTO](t, resp2)
	assert.True(t, got.Active)
}

func TestAPI_LedgerHistory(t *testing.T) {
	srv := testServer(t, testNow)
	m := registerViaAPI(t, srv)
	payViaAPI(t, srv, m.ID, testNow.AddDate(0, 0, -5))

	resp := postJSON(t, srv.URL+"/api/members/"+m.ID+"/purchases",
		PostPurchaseRequest{Total: "15000"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/members/" + m.ID + "/ledger")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]LedgerEntryDTO](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, string(loyalty.EntryEarn), entries[0].Type)
	assert.Equal(t, "2500", entries[0].Amount)
	assert.Equal(t, "2025-07-01", entries[0].UsableFrom[:10], "activates first of next month")
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_Scenarios(t *testing.T) {
	srv := testServer(t, testNow)

	resp, err := http.Get(srv.URL + "/api/scenarios")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]Scenario](t, resp)
	assert.Len(t, list, 3)

	for _, sc := range list {
		resp := postJSON(t, srv.URL+"/api/scenarios/load", map[string]string{"id": sc.ID})
		assert.Equal(t, http.StatusOK, resp.StatusCode, "scenario %s", sc.ID)
		resp.Body.Close()
	}

	resp = postJSON(t, srv.URL+"/api/scenarios/load", map[string]string{"id": "bogus"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
