// Package settle is a typed client for the intent settlement HTTP API.
package settle

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"intent-settlement/internal/api"
	"intent-settlement/internal/auth"
	"intent-settlement/internal/intent"
	"intent-settlement/internal/settlement"
)

// DefaultHTTPTimeout applies to clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the settlement API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Code != "" {
		return fmt.Sprintf("settlement api error (%d): %s - %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("settlement api error (%d): %s", e.StatusCode, msg)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Login signs the login message with key and stores the issued token.
func (c *Client) Login(ctx context.Context, key *ecdsa.PrivateKey) (auth.Token, error) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ts := time.Now().Unix()
	sig, err := intent.Sign(auth.LoginDigest(addr, ts), key)
	if err != nil {
		return auth.Token{}, fmt.Errorf("sign login: %w", err)
	}
	return c.LoginSigned(ctx, auth.LoginRequest{Address: addr, Timestamp: ts, Signature: hexutil.Encode(sig)})
}

// LoginSigned submits a login signed elsewhere, for example by a hardware wallet.
func (c *Client) LoginSigned(ctx context.Context, req auth.LoginRequest) (auth.Token, error) {
	var token auth.Token
	if err := c.send(ctx, http.MethodPost, "/v1/auth/login", req, &token, false); err != nil {
		return auth.Token{}, err
	}
	c.SetAccessToken(token.AccessToken)
	return token, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Domain fetches the signing domain.
func (c *Client) Domain(ctx context.Context) (api.DomainResponse, error) {
	var out api.DomainResponse
	err := c.send(ctx, http.MethodGet, "/v1/domain", nil, &out, false)
	return out, err
}

// Codec builds a local codec from the server's signing domain.
func (c *Client) Codec(ctx context.Context) (*intent.Codec, error) {
	d, err := c.Domain(ctx)
	if err != nil {
		return nil, err
	}
	chainID, ok := new(big.Int).SetString(d.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("server returned chain id %q", d.ChainID)
	}
	codec := intent.NewCodec(intent.Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           chainID,
		VerifyingContract: d.VerifyingContract,
	})
	if codec.DomainSeparator() != d.Separator {
		return nil, errors.New("local domain separator differs from server")
	}
	return codec, nil
}

// Params fetches the protocol parameters.
func (c *Client) Params(ctx context.Context) (settlement.Params, error) {
	var out settlement.Params
	err := c.send(ctx, http.MethodGet, "/v1/params", nil, &out, false)
	return out, err
}

// Nonce fetches a maker's current nonce.
func (c *Client) Nonce(ctx context.Context, maker common.Address) (uint64, error) {
	var out api.NonceResponse
	if err := c.send(ctx, http.MethodGet, "/v1/nonces/"+maker.Hex(), nil, &out, false); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// IntentStatus fetches the fill record of an intent.
func (c *Client) IntentStatus(ctx context.Context, id common.Hash) (settlement.Fill, error) {
	var out settlement.Fill
	err := c.send(ctx, http.MethodGet, "/v1/intents/"+id.Hex(), nil, &out, false)
	return out, err
}

// Submit announces a signed intent.
func (c *Client) Submit(ctx context.Context, in intent.Intent, sig []byte) (api.SubmitIntentResponse, error) {
	var out api.SubmitIntentResponse
	err := c.send(ctx, http.MethodPost, "/v1/intents", api.SubmitIntentRequest{Intent: in, Signature: sig}, &out, false)
	return out, err
}

// Fill settles an intent as the logged-in solver.
func (c *Client) Fill(ctx context.Context, in intent.Intent, sig []byte, amountOut *big.Int) (settlement.FillResult, error) {
	var out settlement.FillResult
	req := api.FillRequest{Intent: in, Signature: sig, AmountOut: intent.FormatAmount(amountOut)}
	err := c.send(ctx, http.MethodPost, "/v1/fills", req, &out, true)
	return out, err
}

// CancelIntent cancels one of the logged-in maker's intents.
func (c *Client) CancelIntent(ctx context.Context, id common.Hash) (settlement.Fill, error) {
	var out settlement.Fill
	err := c.send(ctx, http.MethodPost, "/v1/intents/"+id.Hex()+"/cancel", nil, &out, true)
	return out, err
}

// CancelAll invalidates every intent signed with the current nonce.
func (c *Client) CancelAll(ctx context.Context) (uint64, error) {
	var out api.NonceResponse
	if err := c.send(ctx, http.MethodPost, "/v1/nonces/invalidate", nil, &out, true); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// Solver fetches a solver record.
func (c *Client) Solver(ctx context.Context, addr common.Address) (settlement.Solver, error) {
	var out settlement.Solver
	err := c.send(ctx, http.MethodGet, "/v1/solvers/"+addr.Hex(), nil, &out, false)
	return out, err
}

// RegisterSolver deposits stake for the logged-in address.
func (c *Client) RegisterSolver(ctx context.Context, stake *big.Int) (settlement.Solver, error) {
	var out settlement.Solver
	err := c.send(ctx, http.MethodPost, "/v1/solvers", api.AmountRequest{Amount: intent.FormatAmount(stake)}, &out, true)
	return out, err
}

// WithdrawStake returns stake to the logged-in solver.
func (c *Client) WithdrawStake(ctx context.Context, amount *big.Int) (settlement.Solver, error) {
	var out settlement.Solver
	err := c.send(ctx, http.MethodPost, "/v1/solvers/withdraw", api.AmountRequest{Amount: intent.FormatAmount(amount)}, &out, true)
	return out, err
}

// CurrentBatch fetches the open batch.
func (c *Client) CurrentBatch(ctx context.Context) (settlement.Batch, error) {
	var out settlement.Batch
	err := c.send(ctx, http.MethodGet, "/v1/batches/current", nil, &out, false)
	return out, err
}

// CommitBatch binds the current batch to the logged-in solver.
func (c *Client) CommitBatch(ctx context.Context, commitHash common.Hash) (settlement.Batch, error) {
	var out settlement.Batch
	err := c.send(ctx, http.MethodPost, "/v1/batches/commit", api.CommitBatchRequest{CommitHash: commitHash}, &out, true)
	return out, err
}

// SettleBatch reveals the committed batch.
func (c *Client) SettleBatch(ctx context.Context, reveal settlement.BatchReveal) (settlement.BatchResult, error) {
	req := api.SettleBatchRequest{
		Intents:    reveal.Intents,
		Signatures: make([]hexutil.Bytes, len(reveal.Signatures)),
		AmountsOut: make([]string, len(reveal.AmountsOut)),
		Salt:       reveal.Salt,
	}
	for i, sig := range reveal.Signatures {
		req.Signatures[i] = sig
	}
	for i, amount := range reveal.AmountsOut {
		req.AmountsOut[i] = intent.FormatAmount(amount)
	}
	var out settlement.BatchResult
	err := c.send(ctx, http.MethodPost, "/v1/batches/settle", req, &out, true)
	return out, err
}

// CancelBatch abandons the committed batch.
func (c *Client) CancelBatch(ctx context.Context) (settlement.Batch, error) {
	var out settlement.Batch
	err := c.send(ctx, http.MethodPost, "/v1/batches/cancel", nil, &out, true)
	return out, err
}

// Balances fetches an owner's holdings. An empty asset lists every asset.
func (c *Client) Balances(ctx context.Context, owner common.Address, asset string) (api.BalancesResponse, error) {
	endpoint := "/v1/balances/" + owner.Hex()
	if asset != "" {
		endpoint += "?asset=" + url.QueryEscape(asset)
	}
	var out api.BalancesResponse
	err := c.send(ctx, http.MethodGet, endpoint, nil, &out, false)
	return out, err
}

// Events pages through the journal after the given sequence.
func (c *Client) Events(ctx context.Context, after uint64, limit int) (api.EventPage, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out api.EventPage
	err := c.send(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out, false)
	return out, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, endpoint, body, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	u := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, errors.New("settle: access token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
