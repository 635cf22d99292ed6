package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "hivetax/config"
	"hivetax/internal"
	"hivetax/models"
)

const testProps = `{
	"head_block_number": 80000000,
	"time": "2023-12-31T00:00:00",
	"total_vesting_fund_hive": "180000000.000 HIVE",
	"total_vesting_shares": "300000000000.000000 VESTS"
}`

// newTestNode serves condenser JSON-RPC with a pluggable account history
// handler. The dynamic global properties probe is always answered.
func newTestNode(t *testing.T, history func(start int64, limit int) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		switch req.Method {
		case "condenser_api.get_dynamic_global_properties":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"id":%d}`, testProps, req.ID)
		case "condenser_api.get_account_history":
			params := req.Params.([]interface{})
			start := int64(params[1].(float64))
			limit := int(params[2].(float64))
			fmt.Fprintf(w, `{"jsonrpc":"2.0","result":%s,"id":%d}`, history(start, limit), req.ID)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"unknown method"},"id":%d}`, req.ID)
		}
	}))
}

func testConfig(nodes ...string) *appconfig.Config {
	return &appconfig.Config{
		Export: appconfig.ExportConfig{
			Account:   "alice",
			StartDate: "2023-01-01",
			EndDate:   "2023-12-31",
			Output:    "out.csv",
		},
		Reader: appconfig.ReaderConfig{
			Timeout:  5 * time.Second,
			PageSize: 1000,
			Retry:    appconfig.RetryConfig{MaxAttempts: 1},
		},
		Source: appconfig.SourceConfig{Hive: appconfig.HiveSourceConfig{Nodes: nodes}},
	}
}

func historyEntryJSON(index int64, timestamp, opName, payload string) string {
	return fmt.Sprintf(`[%d,{"trx_id":"abc","block":1,"timestamp":"%s","op":["%s",%s]}]`, index, timestamp, opName, payload)
}

func TestNewClientFailover(t *testing.T) {
	node := newTestNode(t, func(int64, int) string { return "[]" })
	defer node.Close()

	cfg := testConfig("http://127.0.0.1:1", node.URL)
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	if client.Endpoint() != node.URL {
		t.Errorf("expected fallback endpoint %s, got %s", node.URL, client.Endpoint())
	}
}

func TestNewClientNoReachableNode(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Reader.Timeout = 500 * time.Millisecond
	if _, err := NewClient(context.Background(), cfg); err == nil {
		t.Fatalf("expected error when no node is reachable")
	}
}

func TestDynamicGlobalProperties(t *testing.T) {
	node := newTestNode(t, func(int64, int) string { return "[]" })
	defer node.Close()

	client, err := NewClient(context.Background(), testConfig(node.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	props, err := client.DynamicGlobalProperties(context.Background())
	if err != nil {
		t.Fatalf("DynamicGlobalProperties failed: %v", err)
	}
	if props.TotalVestingFundHive != "180000000.000 HIVE" {
		t.Errorf("unexpected vesting fund: %s", props.TotalVestingFundHive)
	}
}

func TestAccountHistoryParsing(t *testing.T) {
	node := newTestNode(t, func(start int64, limit int) string {
		return "[" +
			historyEntryJSON(3, "2023-05-01T12:00:00", "fill_order", `{"current_owner":"alice","current_pays":"1.000 HIVE","open_owner":"bob","open_pays":"0.500 HBD"}`) + "," +
			historyEntryJSON(4, "2023-06-15T09:30:00", "transfer", `{"from":"alice","to":"bob","amount":"1.000 HIVE"}`) +
			"]"
	})
	defer node.Close()

	client, err := NewClient(context.Background(), testConfig(node.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	ops, err := client.AccountHistory(context.Background(), "alice", -1, 1000, 0, 0)
	if err != nil {
		t.Fatalf("AccountHistory failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(ops))
	}
	if ops[0].Kind != models.OpFillOrder || ops[0].Index != 3 {
		t.Errorf("unexpected first op: %+v", ops[0])
	}
	if ops[0].Timestamp.Format(models.OperationTimeLayout) != "2023-05-01T12:00:00" {
		t.Errorf("unexpected timestamp: %v", ops[0].Timestamp)
	}
	if ops[1].Kind != models.OpIgnored {
		t.Errorf("transfer should map to OpIgnored, got %v", ops[1].Kind)
	}
}

func TestHistoryReaderPaginatesAndOrders(t *testing.T) {
	// Two pages walked backwards: the first request (start=-1) returns the
	// newer half, the second ends at the older half.
	node := newTestNode(t, func(start int64, limit int) string {
		if start == -1 {
			return "[" +
				historyEntryJSON(2, "2023-06-01T00:00:00", "interest", `{"owner":"alice","interest":"0.100 HBD"}`) + "," +
				historyEntryJSON(3, "2023-07-01T00:00:00", "interest", `{"owner":"alice","interest":"0.200 HBD"}`) +
				"]"
		}
		return "[" +
			historyEntryJSON(0, "2023-02-01T00:00:00", "interest", `{"owner":"alice","interest":"0.010 HBD"}`) + "," +
			historyEntryJSON(1, "2023-03-01T00:00:00", "interest", `{"owner":"alice","interest":"0.020 HBD"}`) +
			"]"
	})
	defer node.Close()

	cfg := testConfig(node.URL)
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	channels := internal.NewChannels(16, 16, 4, false)
	hr := NewHistoryReader(cfg, client, channels)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var got []models.Operation
	for op := range channels.Operations {
		got = append(got, op)
	}
	hr.Stop()

	select {
	case err := <-channels.Errors:
		t.Fatalf("unexpected pipeline error: %v", err)
	default:
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("operations out of order at %d: %v after %v", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
	if got[0].Index != 0 || got[3].Index != 3 {
		t.Errorf("unexpected index order: first=%d last=%d", got[0].Index, got[3].Index)
	}
}

func TestHistoryReaderClipsWindow(t *testing.T) {
	node := newTestNode(t, func(start int64, limit int) string {
		return "[" +
			historyEntryJSON(0, "2022-12-31T23:59:59", "interest", `{"owner":"alice","interest":"0.010 HBD"}`) + "," +
			historyEntryJSON(1, "2023-03-01T00:00:00", "interest", `{"owner":"alice","interest":"0.020 HBD"}`) + "," +
			historyEntryJSON(2, "2024-01-01T00:00:01", "interest", `{"owner":"alice","interest":"0.030 HBD"}`) +
			"]"
	})
	defer node.Close()

	cfg := testConfig(node.URL)
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	channels := internal.NewChannels(16, 16, 4, false)
	hr := NewHistoryReader(cfg, client, channels)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hr.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var got []models.Operation
	for op := range channels.Operations {
		got = append(got, op)
	}
	hr.Stop()

	if len(got) != 1 {
		t.Fatalf("expected 1 operation inside window, got %d", len(got))
	}
	if got[0].Index != 1 {
		t.Errorf("unexpected surviving operation: %+v", got[0])
	}
}
