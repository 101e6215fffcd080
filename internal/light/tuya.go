package light

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"aeroclock/internal/clock"
	"aeroclock/internal/config"
	"aeroclock/internal/permanent"
)

const (
	tokenPath       = "/v1.0/token?grant_type=1"
	switchCode      = "switch_led"
	tokenExpirySlop = 60 * time.Second
)

// Controller switches the paired smart bulb.
// Params: ctx bounds the cloud call, on selects the power state.
// Returns: call error.
type Controller interface {
	SetPower(ctx context.Context, on bool) error
}

// Disabled is a no-op controller for installations without a bulb.
// Params: none.
// Returns: always nil.
type Disabled struct{}

// SetPower ignores the request.
// Params: ctx and power state.
// Returns: nil.
func (Disabled) SetPower(context.Context, bool) error {
	return nil
}

// TuyaClient talks to the Tuya cloud device API with signed requests.
// Params: cloud endpoint, credentials, and target device from config.
// Returns: power switching for one bulb.
type TuyaClient struct {
	endpoint string
	clientID string
	secret   string
	deviceID string
	http     *http.Client
	logger   *slog.Logger
	clock    clock.Clock

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewTuyaClient builds the cloud client.
// Params: light config, logger, and clock (nil selects real time).
// Returns: ready client.
func NewTuyaClient(cfg config.LightConfig, logger *slog.Logger, clk clock.Clock) *TuyaClient {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TuyaClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		clientID: cfg.AccessID,
		secret:   cfg.AccessSecret,
		deviceID: cfg.DeviceID,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:   logger,
		clock:    clk,
	}
}

// apiEnvelope is the Tuya cloud response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
}

// tokenResult is the token grant payload.
type tokenResult struct {
	AccessToken string `json:"access_token"`
	ExpireTime  int64  `json:"expire_time"`
}

// SetPower switches the bulb on or off.
// Params: ctx bounds token and command calls, on selects the state.
// Returns: request, signing, or cloud rejection error.
func (c *TuyaClient) SetPower(ctx context.Context, on bool) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"commands": []map[string]any{{"code": switchCode, "value": on}},
	})
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode command: %w", err))
	}

	path := "/v1.0/devices/" + c.deviceID + "/commands"
	envelope, err := c.call(ctx, http.MethodPost, path, token, body)
	if err != nil {
		return err
	}
	if !envelope.Success {
		return fmt.Errorf("device command rejected: code=%d msg=%q", envelope.Code, envelope.Msg)
	}

	c.logger.Debug("bulb power switched", "device_id", c.deviceID, "on", on)
	return nil
}

// ensureToken returns a cached access token, refreshing when near expiry.
// Params: ctx bounds the token call.
// Returns: valid token or grant error.
func (c *TuyaClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.token != "" && now.Add(tokenExpirySlop).Before(c.tokenExpiry) {
		return c.token, nil
	}

	envelope, err := c.call(ctx, http.MethodGet, tokenPath, "", nil)
	if err != nil {
		return "", err
	}
	if !envelope.Success {
		return "", fmt.Errorf("token grant rejected: code=%d msg=%q", envelope.Code, envelope.Msg)
	}

	var grant tokenResult
	if err := json.Unmarshal(envelope.Result, &grant); err != nil {
		return "", fmt.Errorf("decode token grant: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("token grant returned empty token")
	}

	c.token = grant.AccessToken
	c.tokenExpiry = now.Add(time.Duration(grant.ExpireTime) * time.Second)
	return c.token, nil
}

// call executes one signed cloud request and decodes the envelope.
// Params: ctx, HTTP method, path with query, access token, and body.
// Returns: decoded envelope or transport/decoding error.
func (c *TuyaClient) call(ctx context.Context, method, path, token string, body []byte) (apiEnvelope, error) {
	timestamp := strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
	sign := c.sign(method, path, token, timestamp, body)

	var payload io.Reader
	if len(body) > 0 {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, payload)
	if err != nil {
		return apiEnvelope{}, permanent.Mark(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("client_id", c.clientID)
	req.Header.Set("t", timestamp)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("sign", sign)
	if token != "" {
		req.Header.Set("access_token", token)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("cloud request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("read cloud response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiEnvelope{}, fmt.Errorf("cloud responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return apiEnvelope{}, fmt.Errorf("decode cloud response: %w", err)
	}
	return envelope, nil
}

// sign computes the Tuya request signature.
// The string to sign is method, body SHA-256, empty headers block, and
// path joined by newlines; the HMAC key material is client id, optional
// token, and millisecond timestamp prepended to that string.
// Params: method, path with query, token, timestamp, and body.
// Returns: upper-case hex HMAC-SHA256 signature.
func (c *TuyaClient) sign(method, path, token, timestamp string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	stringToSign := method + "\n" + hex.EncodeToString(bodyHash[:]) + "\n" + "\n" + path

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.clientID + token + timestamp + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
