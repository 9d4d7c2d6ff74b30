package http

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escrow "github.com/tripartite/escrow"
	"github.com/tripartite/escrow/devchain"
	"github.com/tripartite/escrow/orchestrator"
	"github.com/tripartite/escrow/signer"
)

type testServer struct {
	router      *gin.Engine
	chain       *devchain.Chain
	arbiter     *signer.KeySigner
	payer       *signer.KeySigner
	beneficiary *signer.KeySigner
}

// txResult is the decodable subset of escrow.TxResult; events are interfaces
type txResult struct {
	OperationID string          `json:"operationId"`
	Agreement   common.Address  `json:"agreement"`
	TxHash      common.Hash     `json:"transactionHash"`
	State       escrow.State    `json:"state"`
	Settled     bool            `json:"settled"`
	RefundedTo  *common.Address `json:"refundedTo"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *escrow.Error   `json:"error"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	ts := &testServer{chain: devchain.New()}
	hundred, _ := escrow.ParseEther("100")
	for _, s := range []**signer.KeySigner{&ts.arbiter, &ts.payer, &ts.beneficiary} {
		k, err := signer.Generate()
		require.NoError(t, err)
		*s = k
		ts.chain.Fund(k.Address(), hundred)
	}

	orch, err := orchestrator.New(ts.chain, orchestrator.Config{
		Bytecode:     devchain.Bytecode,
		PollInterval: time.Millisecond,
		Logger:       log,
	})
	require.NoError(t, err)
	metrics := orchestrator.NewMetrics()
	metrics.Attach(orch)

	srv := NewServer(orch, Identities{Arbiter: ts.arbiter, Payer: ts.payer}, WithMetrics(metrics), WithLogger(log))
	ts.router = srv.Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (ts *testServer) deploy(t *testing.T, payer string, requirements ...string) string {
	t.Helper()
	body, err := json.Marshal(DeployRequest{
		Payer:        payer,
		Beneficiary:  ts.beneficiary.Address().Hex(),
		Requirements: requirements,
	})
	require.NoError(t, err)

	code, env := ts.do(t, http.MethodPost, "/api/contracts/deploy", string(body))
	require.Equal(t, http.StatusCreated, code, "deploy failed: %+v", env.Error)
	var result txResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result.Agreement.Hex()
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	code, env := ts.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	var data struct {
		Status  string `json:"status"`
		Network struct {
			ChainID *big.Int `json:"chainId"`
		} `json:"network"`
		Arbiter string `json:"arbiter"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data.Status)
	assert.Equal(t, int64(devchain.DefaultChainID), data.Network.ChainID.Int64())
	// addresses are encoded lowercase
	assert.Equal(t, ts.arbiter.Address(), common.HexToAddress(data.Arbiter))
}

func TestServer_Lifecycle(t *testing.T) {
	ts := newTestServer(t)
	addr := ts.deploy(t, ts.payer.Address().Hex(), "design", "build")
	base := "/api/contracts/" + addr

	code, env := ts.do(t, http.MethodPost, base+"/deposit", `{"amount":"1.5"}`)
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	var deposit txResult
	require.NoError(t, json.Unmarshal(env.Data, &deposit))
	assert.Equal(t, escrow.StateInProgress, deposit.State)

	code, env = ts.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Info struct {
			State string `json:"state"`
		} `json:"info"`
		Requirements    []escrow.Requirement `json:"requirements"`
		Balance         string               `json:"balance"`
		DepositedAmount string               `json:"depositedAmount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "IN_PROGRESS", view.Info.State)
	assert.Equal(t, "1.5", view.Balance)
	assert.Equal(t, "1.5", view.DepositedAmount)
	require.Len(t, view.Requirements, 2)
	assert.Equal(t, "build", view.Requirements[1].Description)

	for _, index := range []string{"0", "1"} {
		code, env = ts.do(t, http.MethodPost, base+"/complete/"+index, "")
		require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	}
	var settled txResult
	require.NoError(t, json.Unmarshal(env.Data, &settled))
	assert.True(t, settled.Settled)
	assert.Equal(t, escrow.StateCompleted, settled.State)

	code, env = ts.do(t, http.MethodGet, base+"/requirements/1", "")
	require.Equal(t, http.StatusOK, code)
	var req escrow.Requirement
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.True(t, req.Completed)

	code, env = ts.do(t, http.MethodGet, "/api/balance/"+ts.beneficiary.Address().Hex(), "")
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &balance))
	assert.Equal(t, "101.5", balance.Balance)
}

func TestServer_CancelAndWithdraw(t *testing.T) {
	ts := newTestServer(t)

	cancelled := ts.deploy(t, ts.payer.Address().Hex(), "A")
	code, env := ts.do(t, http.MethodPost, "/api/contracts/"+cancelled+"/cancel", "")
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	var result txResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, escrow.StateCancelled, result.State)

	funded := ts.deploy(t, ts.payer.Address().Hex(), "A")
	code, _ = ts.do(t, http.MethodPost, "/api/contracts/"+funded+"/deposit", `{"amount":"2"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodPost, "/api/contracts/"+funded+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	code, env = ts.do(t, http.MethodPost, "/api/contracts/"+funded+"/emergency-withdraw", "")
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotNil(t, result.RefundedTo)
	assert.Equal(t, ts.payer.Address(), *result.RefundedTo)
}

func TestServer_Events(t *testing.T) {
	ts := newTestServer(t)
	addr := ts.deploy(t, ts.payer.Address().Hex(), "A")
	base := "/api/contracts/" + addr

	code, env := ts.do(t, http.MethodPost, base+"/deposit", `{"amount":"1"}`)
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	code, env = ts.do(t, http.MethodPost, base+"/complete/0", "")
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)

	type record struct {
		Event       string                     `json:"event"`
		Args        map[string]json.RawMessage `json:"args"`
		BlockNumber uint64                     `json:"blockNumber"`
		TxHash      common.Hash                `json:"transactionHash"`
	}
	code, env = ts.do(t, http.MethodGet, base+"/events", "")
	require.Equal(t, http.StatusOK, code, "%+v", env.Error)
	var events []record
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 3)
	assert.Equal(t, escrow.EventFundsDeposited, events[0].Event)
	assert.Equal(t, escrow.EventRequirementCompleted, events[1].Event)
	assert.Equal(t, escrow.EventAgreementCompleted, events[2].Event)
	assert.Contains(t, events[0].Args, "amount")
	assert.NotEqual(t, common.Hash{}, events[0].TxHash)

	last := events[2].BlockNumber
	code, env = ts.do(t, http.MethodGet, base+"/events?fromBlock="+new(big.Int).SetUint64(last).String(), "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 2)
}

func TestServer_Errors(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.payer.Address().Hex()
	fresh := ts.deploy(t, payer, "A", "B")
	// deposits come from the service payer, which is not this agreement's payer
	stranger, err := signer.Generate()
	require.NoError(t, err)
	foreign := ts.deploy(t, stranger.Address().Hex(), "A")
	missing := "0x000000000000000000000000000000000000dEaD"

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed address", http.MethodGet, "/api/contracts/0x1234", "", http.StatusBadRequest, escrow.ErrCodeInvalidAddress},
		{"unknown agreement", http.MethodGet, "/api/contracts/" + missing, "", http.StatusNotFound, escrow.ErrCodeNotFound},
		{"bad balance address", http.MethodGet, "/api/balance/nope", "", http.StatusBadRequest, escrow.ErrCodeInvalidAddress},
		{"requirement out of range", http.MethodGet, "/api/contracts/" + fresh + "/requirements/9", "", http.StatusBadRequest, escrow.ErrCodeRequirementNotFound},
		{"non numeric index", http.MethodPost, "/api/contracts/" + fresh + "/complete/first", "", http.StatusBadRequest, escrow.ErrCodeRequirementNotFound},
		{"complete before deposit", http.MethodPost, "/api/contracts/" + fresh + "/complete/0", "", http.StatusConflict, escrow.ErrCodeInvalidState},
		{"deposit by wrong payer", http.MethodPost, "/api/contracts/" + foreign + "/deposit", `{"amount":"1"}`, http.StatusForbidden, escrow.ErrCodeUnauthorized},
		{"withdraw before cancel", http.MethodPost, "/api/contracts/" + fresh + "/emergency-withdraw", "", http.StatusConflict, escrow.ErrCodeInvalidState},
		{"zero amount", http.MethodPost, "/api/contracts/" + fresh + "/deposit", `{"amount":"0"}`, http.StatusBadRequest, escrow.ErrCodeInvalidAmount},
		{"negative amount", http.MethodPost, "/api/contracts/" + fresh + "/deposit", `{"amount":"-1"}`, http.StatusBadRequest, escrow.ErrCodeInvalidAmount},
		{"missing amount", http.MethodPost, "/api/contracts/" + fresh + "/deposit", `{}`, http.StatusBadRequest, ErrCodeInvalidBody},
		{"not json", http.MethodPost, "/api/contracts/" + fresh + "/deposit", `amount=1`, http.StatusBadRequest, ErrCodeInvalidBody},
		{"no requirements", http.MethodPost, "/api/contracts/deploy",
			`{"payer":"` + payer + `","beneficiary":"` + missing + `","requirements":[]}`, http.StatusBadRequest, ErrCodeInvalidBody},
		{"bad payer", http.MethodPost, "/api/contracts/deploy",
			`{"payer":"0xabc","beneficiary":"` + missing + `","requirements":["A"]}`, http.StatusBadRequest, escrow.ErrCodeInvalidAddress},
		{"bad event block", http.MethodGet, "/api/contracts/" + fresh + "/events?fromBlock=abc", "", http.StatusBadRequest, ErrCodeInvalidBlock},
		{"events of unknown agreement", http.MethodGet, "/api/contracts/" + missing + "/events", "", http.StatusNotFound, escrow.ErrCodeNotFound},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound, "route_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, tt.method, tt.path, tt.body)
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if env.Success {
				t.Errorf("success = true, want false")
			}
			if env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}

func TestServer_IdempotencyKey(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/contracts/" + ts.deploy(t, ts.payer.Address().Hex(), "A")

	code, first := ts.do(t, http.MethodPost, base+"/deposit", `{"amount":"1"}`, IdempotencyHeader, "deposit-1")
	require.Equal(t, http.StatusOK, code)
	code, replay := ts.do(t, http.MethodPost, base+"/deposit", `{"amount":"1"}`, IdempotencyHeader, "deposit-1")
	require.Equal(t, http.StatusOK, code)

	var a, b txResult
	require.NoError(t, json.Unmarshal(first.Data, &a))
	require.NoError(t, json.Unmarshal(replay.Data, &b))
	assert.Equal(t, a.TxHash, b.TxHash)
	assert.Equal(t, a.OperationID, b.OperationID)

	// a new key is a new submission and hits the state machine
	code, env := ts.do(t, http.MethodPost, base+"/deposit", `{"amount":"1"}`, IdempotencyHeader, "deposit-2")
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, escrow.ErrCodeInvalidState, env.Error.Code)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.deploy(t, ts.payer.Address().Hex(), "A")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte(`escrow_submissions_total{operation="deploy",outcome="confirmed"} 1`)), w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind escrow.ErrorKind
		want int
	}{
		{escrow.KindValidation, http.StatusBadRequest},
		{escrow.KindAuthorization, http.StatusForbidden},
		{escrow.KindStateConflict, http.StatusConflict},
		{escrow.KindIdempotency, http.StatusConflict},
		{escrow.KindNotFound, http.StatusNotFound},
		{escrow.KindTransient, http.StatusServiceUnavailable},
		{escrow.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := StatusFor(tt.kind); got != tt.want {
				t.Errorf("StatusFor(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
