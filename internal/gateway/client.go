// Package gateway is the HTTP client for the account gateway: the service
// that owns user-account sessions and performs the actual group sends.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"castbot/internal/model"
	"castbot/internal/observability"
	logx "castbot/pkg/logx"
)

type Config struct {
	BaseURL string
	Token   string

	// Process-wide account credentials, overridden per actor.
	APIID   int
	APIHash string

	Timeout    time.Duration
	RatePerSec int

	BreakerFailures int
	BreakerCooldown time.Duration
}

// Account identifies the user account a session is opened for.
type Account struct {
	Phone   string
	APIID   int
	APIHash string
}

// Conn is an open gateway session.
type Conn interface {
	ListCandidates(ctx context.Context) ([]model.Candidate, error)
	Send(ctx context.Context, targetID int64, text string) error
	Close(ctx context.Context) error
}

// StatusError is a non-2xx gateway reply.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("gateway http %d: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("gateway http %d", e.Code)
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	failures := uint32(cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= failures },
		// A rejected request is the caller's problem, not an outage.
		IsSuccessful: func(err error) bool { return err == nil || isClientError(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("gateway breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		cb:      cb,
		log:     log,
	}
}

// AccountFor applies the actor's override credentials, falling back to the
// process defaults.
func (c *Client) AccountFor(actor model.Actor, phone string) Account {
	a := Account{Phone: phone, APIID: c.cfg.APIID, APIHash: c.cfg.APIHash}
	if actor.HasOverride() {
		a.APIID, a.APIHash = actor.APIID, actor.APIHash
	}
	return a
}

type openReq struct {
	Phone   string `json:"phone"`
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
}

// Open connects a session for acc. Callers must Close it.
func (c *Client) Open(ctx context.Context, acc Account) (Conn, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, "open", http.MethodPost, "/v1/sessions", openReq(acc), &out); err != nil {
		return nil, model.Transport("gateway.open", err)
	}
	if out.SessionID == "" {
		return nil, model.Transport("gateway.open", errors.New("empty session id"))
	}
	return &conn{c: c, id: out.SessionID}, nil
}

// ListCandidates opens a session, lists its groups and closes it again.
func (c *Client) ListCandidates(ctx context.Context, acc Account) ([]model.Candidate, error) {
	cn, err := c.Open(ctx, acc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := cn.Close(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("gateway session close failed", logx.Err(err))
		}
	}()
	return cn.ListCandidates(ctx)
}

// RequestCode asks the gateway to send a login code to phone and returns the
// code hash needed by SignIn.
func (c *Client) RequestCode(ctx context.Context, acc Account) (string, error) {
	var out struct {
		PhoneCodeHash string `json:"phone_code_hash"`
	}
	err := c.do(ctx, "request_code", http.MethodPost, "/v1/auth/code", openReq(acc), &out)
	if isClientError(err) {
		return "", model.Validation("gateway.request_code", "The gateway rejected this phone number. Please check it and /add_account again.")
	}
	if err != nil {
		return "", model.Transport("gateway.request_code", err)
	}
	return out.PhoneCodeHash, nil
}

type signInReq struct {
	Phone         string `json:"phone"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash"`
	APIID         int    `json:"api_id"`
	APIHash       string `json:"api_hash"`
}

// SignIn confirms the login code.
func (c *Client) SignIn(ctx context.Context, acc Account, code, codeHash string) error {
	in := signInReq{Phone: acc.Phone, Code: strings.TrimSpace(code), PhoneCodeHash: codeHash, APIID: acc.APIID, APIHash: acc.APIHash}
	err := c.do(ctx, "sign_in", http.MethodPost, "/v1/auth/sign-in", in, nil)
	if isClientError(err) {
		return model.Validation("gateway.sign_in", "The login code was not accepted. Please /add_account again.")
	}
	if err != nil {
		return model.Transport("gateway.sign_in", err)
	}
	return nil
}

// do runs one request behind the limiter and the breaker.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		observability.GatewayRequests.WithLabelValues(op, "rate_limited").Inc()
		return err
	}
	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	observability.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		observability.GatewayRequests.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.GatewayRequests.WithLabelValues(op, "cb_open").Inc()
	default:
		observability.GatewayRequests.WithLabelValues(op, "error").Inc()
		c.log.Debug("gateway call failed", logx.String("op", op), logx.Err(err))
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &StatusError{Code: resp.StatusCode, Msg: e.Error}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
