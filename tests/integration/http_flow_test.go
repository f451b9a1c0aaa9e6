package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gatewatch/gatewatch/internal/accounts"
	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/gatewatch/gatewatch/internal/blocking"
	"github.com/gatewatch/gatewatch/internal/client"
	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/handlers"
	"github.com/gatewatch/gatewatch/internal/memlimit"
	"github.com/gatewatch/gatewatch/internal/middleware"
	"github.com/gatewatch/gatewatch/internal/models"
	"github.com/gatewatch/gatewatch/internal/popularity"
	"github.com/gatewatch/gatewatch/internal/ring"
	"github.com/gatewatch/gatewatch/internal/routes"
	"github.com/gatewatch/gatewatch/internal/store"
	"github.com/gatewatch/gatewatch/internal/typo"
	pkglogger "github.com/gatewatch/gatewatch/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNode is a single-member fleet wired exactly as main wires it,
// backed by the in-memory stable store.
type testNode struct {
	server *httptest.Server
	engine *blocking.Engine
	tm     *auth.TokenManager
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	limits := []credit.LimitPerTimePeriod{{Duration: time.Hour, Limit: 3}}
	limiter := credit.NewLimiter(limits)
	controller := accounts.NewController(store.NewMemoryStore(), limiter, memlimit.New(0, logger), logger)

	analyzer := typo.NewAnalyzer(controller, 0, logger)
	r := ring.New()
	accountClient := client.NewAccountClient(r, controller, logger)
	self := &models.RemoteHost{ID: "node-1", URL: "http://localhost:0", IsLocalHost: true}
	require.NoError(t, accountClient.RegisterHost(self, client.NewLocalTransport(*self, controller, analyzer), 1))

	opts := blocking.DefaultOptions()
	opts.FleetPepper = "integration-test-pepper-value"

	engine := blocking.NewEngine(accountClient, credit.NewIPLimiter(limits), popularity.NewTracker(0), accountClient, nil, opts, logger)

	tm := auth.NewTokenManager("integration-test-admin-secret", time.Hour)
	audit := pkglogger.NewAuditLogger(logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.SecureLogger(logger))
	routes.RegisterRoutes(router,
		handlers.NewAccountsHandler(controller, analyzer, logger),
		handlers.NewLoginHandler(engine, nil, audit, logger),
		handlers.NewAdminHandler(accountClient, r, audit, logger),
		tm,
		middleware.RateLimitConfig{RequestsPerMinute: 1000},
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testNode{server: server, engine: engine, tm: tm}
}

func (n *testNode) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", n.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (n *testNode) login(t *testing.T, username, password string) handlers.LoginResponse {
	t.Helper()
	resp, raw := n.post(t, "/api/login", handlers.LoginRequest{
		UsernameOrAccountID: username,
		Password:            password,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out handlers.LoginResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestLoginFlow_RegistrationThroughExhaustion(t *testing.T) {
	node := startTestNode(t)

	resp, raw := node.post(t, "/api/accounts", handlers.RegisterAccountRequest{
		UsernameOrAccountID: "alice",
		Password:            "tr0ub4dor&3",
		Iterations:          1000,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	// The legitimate owner logs in.
	out := node.login(t, "alice", "tr0ub4dor&3")
	assert.True(t, out.Allowed)
	assert.Equal(t, string(models.OutcomeCredentialsValid), out.Outcome)
	node.engine.Wait()

	// An attacker burns through the remaining hourly allowance.
	for i := 0; i < 2; i++ {
		out = node.login(t, "alice", "wrong-guess")
		assert.False(t, out.Allowed)
		assert.Equal(t, string(models.OutcomeCredentialsInvalid), out.Outcome)
	}

	// The next correct-password login is refused: allowance spent.
	out = node.login(t, "alice", "tr0ub4dor&3")
	assert.False(t, out.Allowed)
	assert.Equal(t, string(models.OutcomeCredentialsValidButBlocked), out.Outcome)
}

func TestLoginFlow_UnknownAccount(t *testing.T) {
	node := startTestNode(t)

	out := node.login(t, "nobody", "whatever")
	assert.False(t, out.Allowed)
	assert.Equal(t, string(models.OutcomeCredentialsInvalidNoSuchAccount), out.Outcome)
}

func TestNodeRPC_AccountRecordVisibleToPeers(t *testing.T) {
	node := startTestNode(t)

	resp, raw := node.post(t, "/api/accounts", handlers.RegisterAccountRequest{
		UsernameOrAccountID: "bob",
		Password:            "s3cret-enough",
		Iterations:          1000,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	httpResp, err := http.Get(node.server.URL + "/api/accounts/bob")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var account models.Account
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&account))
	assert.Equal(t, "bob", account.UsernameOrAccountID)
	assert.NotEmpty(t, account.Phase2Hash)
	assert.NotEmpty(t, account.LedgerPublicKey)
}

func TestAdminSurface_RequiresBearerToken(t *testing.T) {
	node := startTestNode(t)

	body := handlers.AddHostRequest{ID: "node-2", URL: "http://node-2:8080", Weight: 1}

	resp, _ := node.post(t, "/admin/hosts", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := node.tm.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)
	resp, raw := node.post(t, "/admin/hosts", body, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	// Re-registering the same host conflicts.
	resp, _ = node.post(t, "/admin/hosts", body, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
