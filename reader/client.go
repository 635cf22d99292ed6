package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "hivetax/config"
	"hivetax/logger"
	"hivetax/models"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// transport abstracts the wire protocol of a single node connection. Hive
// nodes speak the same JSON-RPC dialect over plain HTTP POST and over
// WebSocket.
type transport interface {
	call(ctx context.Context, req rpcRequest) (json.RawMessage, error)
	close() error
}

type httpTransport struct {
	endpoint string
	client   *http.Client
}

func (t *httpTransport) call(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("node returned HTTP %d", httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *httpTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}

type wsTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func dialWS(ctx context.Context, endpoint string, timeout time.Duration) (*wsTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn, timeout: timeout}, nil
}

// call performs one request/response round trip. The connection carries one
// in-flight request at a time, so the next frame read belongs to this call.
func (t *wsTransport) call(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := t.conn.WriteJSON(req); err != nil {
		return nil, err
	}

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var resp rpcResponse
	if err := t.conn.ReadJSON(&resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}

// Client is a JSON-RPC session against a single Hive API node, selected from
// the configured candidates at construction time. First reachable node wins.
type Client struct {
	config    *appconfig.Config
	transport transport
	endpoint  string
	limiter   *rate.Limiter
	log       *logger.Log
	nextID    atomic.Uint64
}

// NewClient probes the configured nodes in order and returns a client bound
// to the first one that answers a get_dynamic_global_properties call.
func NewClient(ctx context.Context, cfg *appconfig.Config) (*Client, error) {
	log := logger.GetLogger()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps := cfg.Reader.RateLimit.RequestsPerSecond; rps > 0 {
		burst := cfg.Reader.RateLimit.BurstSize
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	for _, endpoint := range cfg.Source.Hive.Nodes {
		t, err := openTransport(ctx, endpoint, cfg.Reader.Timeout)
		if err != nil {
			log.WithComponent("hive_client").WithError(err).WithFields(logger.Fields{
				"endpoint": endpoint,
			}).Warn("node unreachable, trying next")
			continue
		}

		c := &Client{
			config:    cfg,
			transport: t,
			endpoint:  endpoint,
			limiter:   limiter,
			log:       log,
		}

		probeCtx, cancel := context.WithTimeout(ctx, cfg.Reader.Timeout)
		_, err = c.DynamicGlobalProperties(probeCtx)
		cancel()
		if err != nil {
			log.WithComponent("hive_client").WithError(err).WithFields(logger.Fields{
				"endpoint": endpoint,
			}).Warn("node probe failed, trying next")
			t.close()
			continue
		}

		log.WithComponent("hive_client").WithFields(logger.Fields{
			"endpoint": endpoint,
		}).Info("hive client connected")
		return c, nil
	}

	return nil, fmt.Errorf("no reachable hive node among %d candidates", len(cfg.Source.Hive.Nodes))
}

func openTransport(ctx context.Context, endpoint string, timeout time.Duration) (transport, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid node URL %q: %w", endpoint, err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
		return dialWS(ctx, endpoint, timeout)
	case "http", "https":
		return &httpTransport{
			endpoint: endpoint,
			client:   &http.Client{Timeout: timeout},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported node URL scheme %q", parsed.Scheme)
	}
}

// Endpoint returns the node URL the client is bound to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases the underlying transport.
func (c *Client) Close() {
	if err := c.transport.close(); err != nil {
		c.log.WithComponent("hive_client").WithError(err).Warn("failed to close transport")
	}
}

// call performs one rate-limited RPC with bounded retry on transport errors.
// Errors the node itself reports are not retried; a node that answers with an
// error will answer the same way again.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	attempts := c.config.Reader.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := c.config.Reader.Retry.BaseDelay

	var result json.RawMessage
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		result, err = c.transport.call(ctx, req)
		if err == nil {
			logger.LogPerformanceEntry(c.log.WithComponent("hive_client"), "hive_client", method, time.Since(start), logger.Fields{
				"attempt": attempt,
			})
			break
		}

		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%s failed: %w", method, err)
		}
		if attempt == attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", method, attempts, err)
		}

		c.log.WithComponent("hive_client").WithError(err).WithFields(logger.Fields{
			"method":  method,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("rpc call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if m := c.config.Reader.Retry.BackoffMultiplier; m > 1 {
			delay *= time.Duration(m)
		}
		if max := c.config.Reader.Retry.MaxDelay; max > 0 && delay > max {
			delay = max
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("malformed %s result: %w", method, err)
	}
	return nil
}

// DynamicGlobalProperties fetches the network-wide state used for the VESTS
// to HIVE conversion rate.
func (c *Client) DynamicGlobalProperties(ctx context.Context) (*models.DynamicGlobalProperties, error) {
	var props models.DynamicGlobalProperties
	if err := c.call(ctx, "condenser_api.get_dynamic_global_properties", []interface{}{}, &props); err != nil {
		return nil, err
	}
	if props.TotalVestingFundHive == "" || props.TotalVestingShares == "" {
		return nil, fmt.Errorf("malformed dynamic global properties response")
	}
	return &props, nil
}

// historyEntry mirrors one condenser account history record. The op field is
// a two element array of operation name and payload object.
type historyEntry struct {
	TrxID     string             `json:"trx_id"`
	Block     int64              `json:"block"`
	Timestamp string             `json:"timestamp"`
	Op        [2]json.RawMessage `json:"op"`
}

// AccountHistory fetches one page of account history ending at index start
// (-1 for the newest entry), filtered server-side by the operation bitmask.
// Entries come back in ascending index order.
func (c *Client) AccountHistory(ctx context.Context, account string, start int64, limit int, filterLow, filterHigh uint64) ([]models.Operation, error) {
	params := []interface{}{account, start, limit, filterLow, filterHigh}

	var raw [][2]json.RawMessage
	if err := c.call(ctx, "condenser_api.get_account_history", params, &raw); err != nil {
		return nil, err
	}

	ops := make([]models.Operation, 0, len(raw))
	for _, pair := range raw {
		var index int64
		if err := json.Unmarshal(pair[0], &index); err != nil {
			return nil, fmt.Errorf("malformed history index: %w", err)
		}

		var entry historyEntry
		if err := json.Unmarshal(pair[1], &entry); err != nil {
			return nil, fmt.Errorf("malformed history entry %d: %w", index, err)
		}

		var name string
		if err := json.Unmarshal(entry.Op[0], &name); err != nil {
			return nil, fmt.Errorf("malformed operation name at %d: %w", index, err)
		}

		ts, err := time.Parse(models.OperationTimeLayout, entry.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("malformed timestamp %q at %d: %w", entry.Timestamp, index, err)
		}

		ops = append(ops, models.Operation{
			Index:     index,
			TrxID:     entry.TrxID,
			Block:     entry.Block,
			Timestamp: ts,
			Kind:      models.OpKindFromName(name),
			Name:      name,
			Payload:   entry.Op[1],
		})
	}

	return ops, nil
}
