package ws

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gkipass/telemetry/internal/stats"
	"gkipass/telemetry/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(&logger.Config{Level: "error"})
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(MsgTypeTrafficReport, &TrafficReportRequest{
		NodeID: "node-1",
		Entries: []TrafficEntry{
			{UserID: "u1", Bytes: 100, ClientIPs: []string{"1.2.3.4"}},
		},
	})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.Type != MsgTypeTrafficReport {
		t.Errorf("expected traffic_report, got %s", msg.Type)
	}

	var req TrafficReportRequest
	if err := msg.ParseData(&req); err != nil {
		t.Fatalf("ParseData failed: %v", err)
	}
	if req.NodeID != "node-1" || len(req.Entries) != 1 || req.Entries[0].Bytes != 100 {
		t.Errorf("unexpected round trip result: %+v", req)
	}
}

func newTestServer(t *testing.T, agg *stats.Aggregator) (*httptest.Server, string) {
	t.Helper()

	srv := NewServer(agg, "test-token")
	srv.Start()

	router := gin.New()
	router.GET("/ws/node", srv.HandleWebSocket)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return ts, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/node"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func register(t *testing.T, conn *websocket.Conn, token string) Message {
	t.Helper()
	msg, _ := NewMessage(MsgTypeNodeRegister, &NodeRegisterRequest{
		NodeID:   "node-1",
		NodeName: "edge-1",
		Token:    token,
		Version:  "1.0.0",
	})
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write register failed: %v", err)
	}

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read register reply failed: %v", err)
	}
	return reply
}

func TestRegisterAndReportTraffic(t *testing.T) {
	agg := stats.NewAggregator(nil)
	_, url := newTestServer(t, agg)
	conn := dial(t, url)

	reply := register(t, conn, "test-token")
	if reply.Type != MsgTypeRegisterAck {
		t.Fatalf("expected register_ack, got %s", reply.Type)
	}
	var ack NodeRegisterResponse
	if err := reply.ParseData(&ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Success || ack.NodeID != "node-1" {
		t.Errorf("unexpected ack: %+v", ack)
	}

	// 上报两条记录，其中一条带非法地址
	report, _ := NewMessage(MsgTypeTrafficReport, &TrafficReportRequest{
		NodeID: "node-1",
		Entries: []TrafficEntry{
			{UserID: "u1", Bytes: 100, ClientIPs: []string{"1.2.3.4", "bogus"}},
			{UserID: "u2", Bytes: 50, ClientIPs: nil},
		},
	})
	if err := conn.WriteJSON(report); err != nil {
		t.Fatalf("write report failed: %v", err)
	}

	var replyMsg Message
	if err := conn.ReadJSON(&replyMsg); err != nil {
		t.Fatalf("read report reply failed: %v", err)
	}
	if replyMsg.Type != MsgTypeTrafficReport {
		t.Fatalf("expected traffic_report reply, got %s", replyMsg.Type)
	}
	var resp TrafficReportResponse
	if err := replyMsg.ParseData(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Accepted != 2 {
		t.Errorf("unexpected reply: %+v", resp)
	}

	// 响应在记录写入之后发出，此时聚合器必然可见
	snap := agg.Snapshot()
	if snap.Users["u1"].Bytes != 100 {
		t.Errorf("expected 100 bytes for u1, got %d", snap.Users["u1"].Bytes)
	}
	if len(snap.Users["u1"].IPs) != 1 || snap.Users["u1"].IPs[0] != "1.2.3.0" {
		t.Errorf("expected [1.2.3.0], got %v", snap.Users["u1"].IPs)
	}
	if snap.Users["u2"].Bytes != 50 {
		t.Errorf("expected 50 bytes for u2, got %d", snap.Users["u2"].Bytes)
	}
}

func TestRegisterRejectsBadToken(t *testing.T) {
	agg := stats.NewAggregator(nil)
	_, url := newTestServer(t, agg)
	conn := dial(t, url)

	reply := register(t, conn, "wrong-token")
	if reply.Type != MsgTypeError {
		t.Fatalf("expected error, got %s", reply.Type)
	}
	var errMsg ErrorMessage
	if err := reply.ParseData(&errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Code != "AUTH_FAILED" {
		t.Errorf("expected AUTH_FAILED, got %s", errMsg.Code)
	}
}

func TestFirstMessageMustRegister(t *testing.T) {
	agg := stats.NewAggregator(nil)
	_, url := newTestServer(t, agg)
	conn := dial(t, url)

	msg, _ := NewMessage(MsgTypeHeartbeat, &HeartbeatRequest{NodeID: "node-1"})
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatal(err)
	}

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply failed: %v", err)
	}
	if reply.Type != MsgTypeError {
		t.Fatalf("expected error, got %s", reply.Type)
	}
	var errMsg ErrorMessage
	if err := reply.ParseData(&errMsg); err != nil {
		t.Fatal(err)
	}
	if errMsg.Code != "INVALID_FIRST_MESSAGE" {
		t.Errorf("expected INVALID_FIRST_MESSAGE, got %s", errMsg.Code)
	}
}

func TestHeartbeat(t *testing.T) {
	agg := stats.NewAggregator(nil)
	_, url := newTestServer(t, agg)
	conn := dial(t, url)

	if reply := register(t, conn, "test-token"); reply.Type != MsgTypeRegisterAck {
		t.Fatalf("register failed: %s", reply.Type)
	}

	hb, _ := NewMessage(MsgTypeHeartbeat, &HeartbeatRequest{NodeID: "node-1", Status: "online"})
	if err := conn.WriteJSON(hb); err != nil {
		t.Fatal(err)
	}

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read heartbeat reply failed: %v", err)
	}
	if reply.Type != MsgTypeHeartbeat {
		t.Fatalf("expected heartbeat reply, got %s", reply.Type)
	}
	var resp HeartbeatResponse
	if err := reply.ParseData(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Error("expected heartbeat success")
	}
}
