package stats

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testReport() *HourlyReport {
	return &HourlyReport{
		ServerID:   "server-a",
		StartUTCMs: 1000,
		EndUTCMs:   2000,
		UserReports: []UserReport{
			{UserID: "u1", BytesTransferred: 512, Countries: []string{"US", "CA"}},
		},
	}
}

func TestSenderPost(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, 5*time.Second)
	if err := sender.Send(context.Background(), testReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected application/json, got %s", gotContentType)
	}

	var decoded HourlyReport
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.ServerID != "server-a" || len(decoded.UserReports) != 1 {
		t.Errorf("unexpected body: %s", gotBody)
	}
}

func TestSenderNon2xx(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"服务端错误", http.StatusInternalServerError},
		{"请求被拒", http.StatusBadRequest},
		{"未找到", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewSender(srv.URL, 5*time.Second)
			if err := sender.Send(context.Background(), testReport()); err == nil {
				t.Errorf("status %d should be an error", tt.status)
			}
		})
	}
}

func TestSenderFollowsRedirects(t *testing.T) {
	// 标准库默认会把 301/302/303 改写为 GET，这里必须保持 POST 与请求体
	statuses := []struct {
		name   string
		status int
	}{
		{"301永久重定向", http.StatusMovedPermanently},
		{"302临时重定向", http.StatusFound},
		{"303SeeOther", http.StatusSeeOther},
		{"307保持方法", http.StatusTemporaryRedirect},
		{"308永久保持方法", http.StatusPermanentRedirect},
	}

	for _, tt := range statuses {
		t.Run(tt.name, func(t *testing.T) {
			var finalMethod string
			var finalBody []byte

			final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				finalMethod = r.Method
				finalBody, _ = io.ReadAll(r.Body)
				w.WriteHeader(http.StatusOK)
			}))
			defer final.Close()

			redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, final.URL, tt.status)
			}))
			defer redirecting.Close()

			sender := NewSender(redirecting.URL, 5*time.Second)
			if err := sender.Send(context.Background(), testReport()); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			if finalMethod != http.MethodPost {
				t.Errorf("redirect must preserve POST, got %s", finalMethod)
			}
			var decoded HourlyReport
			if err := json.Unmarshal(finalBody, &decoded); err != nil {
				t.Fatalf("redirect must preserve the body: %v", err)
			}
			if decoded.ServerID != "server-a" {
				t.Errorf("unexpected body after redirect: %s", finalBody)
			}
		})
	}
}

func TestSenderRelativeRedirect(t *testing.T) {
	var gotPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/collect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v2/collect", http.StatusFound)
	})
	mux.HandleFunc("/v2/collect", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sender := NewSender(srv.URL+"/collect", 5*time.Second)
	if err := sender.Send(context.Background(), testReport()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotPath != "/v2/collect" {
		t.Errorf("relative location should resolve against the request URL, got %q", gotPath)
	}
}

func TestSenderRedirectLoop(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, 5*time.Second)
	if err := sender.Send(context.Background(), testReport()); err == nil {
		t.Error("redirect loop should fail")
	}
}
