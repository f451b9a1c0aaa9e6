// Package client provides the replicated view of account state: every
// operation is resolved against the responsibility set for the account
// key and swept across its members until one responds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gatewatch/gatewatch/internal/accounts"
	"github.com/gatewatch/gatewatch/internal/models"
)

// Transport is one reachable member of the fleet. The local node and
// remote nodes are addressed identically so the sweep logic never cares
// which member happens to be this process.
type Transport interface {
	Host() models.RemoteHost
	GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error)
	PutAccount(ctx context.Context, account *models.Account, cacheOnly bool) error
	TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error)
	RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error
	UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error)
}

// TypoAnalyzer is the ledger reclassification the local member runs for
// accounts it owns.
type TypoAnalyzer interface {
	UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error)
}

// localTransport serves requests for the shard this process owns or
// caches, calling straight into the accounts controller.
type localTransport struct {
	host       models.RemoteHost
	controller *accounts.Controller
	typos      TypoAnalyzer
}

// NewLocalTransport wraps the node's own controller as a Transport.
func NewLocalTransport(host models.RemoteHost, controller *accounts.Controller, typos TypoAnalyzer) Transport {
	return &localTransport{host: host, controller: controller, typos: typos}
}

func (t *localTransport) Host() models.RemoteHost { return t.host }

func (t *localTransport) GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	return t.controller.Get(ctx, usernameOrAccountID)
}

func (t *localTransport) PutAccount(ctx context.Context, account *models.Account, cacheOnly bool) error {
	return t.controller.Put(ctx, account, cacheOnly)
}

func (t *localTransport) TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error) {
	return t.controller.TryGetCredit(ctx, usernameOrAccountID, amount)
}

func (t *localTransport) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error {
	return t.controller.UpdateForNewLoginAttempt(ctx, attempt, cacheOnly)
}

func (t *localTransport) UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error) {
	return t.typos.UpdateOutcomesUsingTypoAnalysis(ctx, usernameOrAccountID, correctPassword, phase1HashOfCorrectPassword, ipToExclude)
}

// httpTransport speaks the node-to-node JSON surface under /api.
type httpTransport struct {
	host       models.RemoteHost
	httpClient *http.Client
}

// NewHTTPTransport returns a Transport for a remote fleet member.
// The per-candidate deadline comes from the caller's context; the
// client-level timeout is only a backstop.
func NewHTTPTransport(host models.RemoteHost, httpClient *http.Client) Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &httpTransport{host: host, httpClient: httpClient}
}

func (t *httpTransport) Host() models.RemoteHost { return t.host }

func (t *httpTransport) accountURL(usernameOrAccountID, suffix string, cacheOnly bool) string {
	u := fmt.Sprintf("%s/api/accounts/%s%s", t.host.URL, url.PathEscape(usernameOrAccountID), suffix)
	if cacheOnly {
		u += "?cache_only=true"
	}
	return u
}

func (t *httpTransport) GetAccount(ctx context.Context, usernameOrAccountID string) (*models.Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.accountURL(usernameOrAccountID, "", false), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, models.ErrNotFound
	default:
		return nil, fmt.Errorf("%s: unexpected status code: %d", t.host.ID, resp.StatusCode)
	}

	var account models.Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (t *httpTransport) PutAccount(ctx context.Context, account *models.Account, cacheOnly bool) error {
	return t.send(ctx, http.MethodPut, t.accountURL(account.UsernameOrAccountID, "", cacheOnly), account, nil)
}

type creditRequest struct {
	Amount float64 `json:"amount"`
}

type creditResponse struct {
	Granted bool `json:"granted"`
}

func (t *httpTransport) TryGetCredit(ctx context.Context, usernameOrAccountID string, amount float64) (bool, error) {
	var out creditResponse
	err := t.send(ctx, http.MethodPost, t.accountURL(usernameOrAccountID, "/credit", false), creditRequest{Amount: amount}, &out)
	if err != nil {
		return false, err
	}
	return out.Granted, nil
}

func (t *httpTransport) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt, cacheOnly bool) error {
	return t.send(ctx, http.MethodPost, t.accountURL(attempt.UsernameOrAccountID, "/attempts", cacheOnly), attempt, nil)
}

type typoAnalysisRequest struct {
	CorrectPassword string `json:"correct_password"`
	Phase1Hash      []byte `json:"phase1_hash"`
	IPToExclude     string `json:"ip_to_exclude"`
}

type typoAnalysisResponse struct {
	Reclassified int `json:"reclassified"`
}

func (t *httpTransport) UpdateOutcomesUsingTypoAnalysis(ctx context.Context, usernameOrAccountID, correctPassword string, phase1HashOfCorrectPassword []byte, ipToExclude string) (int, error) {
	var out typoAnalysisResponse
	err := t.send(ctx, http.MethodPost, t.accountURL(usernameOrAccountID, "/typo-analysis", false), typoAnalysisRequest{
		CorrectPassword: correctPassword,
		Phase1Hash:      phase1HashOfCorrectPassword,
		IPToExclude:     ipToExclude,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Reclassified, nil
}

// send marshals body, issues the request, and decodes into out when a
// response body is expected. 404 maps onto ErrNotFound and 400 onto
// ErrBadRequest so callers treat remote and local answers identically.
func (t *httpTransport) send(ctx context.Context, method, rawURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return models.ErrBadRequest
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s: unexpected status code: %d", t.host.ID, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
