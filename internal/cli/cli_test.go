package cli

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aburke/highgarden/internal/auditlog"
	"github.com/aburke/highgarden/internal/config"
	"github.com/aburke/highgarden/internal/health"
	"github.com/aburke/highgarden/internal/notify"
	"github.com/aburke/highgarden/internal/report"
	"github.com/aburke/highgarden/internal/storage"
)

func auditLine(action string, fields ...string) string {
	parts := append([]string{
		"2024-03-01T10:15:00.000Z",
		"info:",
		auditlog.Signature + ",",
		"message=" + action + ",",
		"adminFullName=Ada Admin,",
	}, fields...)
	return strings.Join(parts, " ")
}

func TestParseProcDate(t *testing.T) {
	now := time.Date(2024, 3, 2, 15, 4, 5, 0, time.FixedZone("PST", -8*3600))

	got, err := parseProcDate("", now)
	if err != nil || !got.Equal(now) || got.Location() != time.UTC {
		t.Errorf("parseProcDate(\"\") = %v, %v, want now in UTC", got, err)
	}

	got, err = parseProcDate("2024-03-02", now)
	if err != nil || !got.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseProcDate() = %v, %v", got, err)
	}

	if _, err := parseProcDate("03/02/2024", now); err == nil {
		t.Error("parseProcDate() with wrong layout returned nil error")
	}
}

func TestParseCommand(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "a.log")
	if err := os.WriteFile(plain, []byte(strings.Join([]string{
		"2024-03-01T09:00:00.000Z info: GET /health 200",
		auditLine("Approve Pending Customer", "customerName=Cust Co"),
	}, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = io.WriteString(zw, auditLine("Change Wire Window", "wireStatus=Closed")+"\n")
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	compressed := filepath.Join(dir, "b.log.gz")
	if err := os.WriteFile(compressed, gz.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"parse", plain, compressed, "--encoding", "legacy"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	ts := "2024-03-01T10:15:00.000Z,Ada Admin"
	want := strings.Join([]string{
		auditlog.Header(),
		"1," + ts + ",Approve Pending Customer,Customer,ADMIN PANEL / CUSTOMER,Company Name,Cust Co",
		"2," + ts + ",Change Wire Window,Wire Window,ADMIN PANEL / CHANGE WIRE WINDOW,Wire Status,Closed",
	}, "\n") + "\n"
	if out.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", out.String(), want)
	}
}

func TestParseCommand_RequiresFiles(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"parse"})
	if err := cmd.Execute(); err == nil {
		t.Error("Execute() without files returned nil error")
	}
}

func TestRunCommand_RejectsBadDate(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"run", "--date", "yesterday"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid --date") {
		t.Errorf("Execute() error = %v, want invalid --date", err)
	}
}

func TestOpsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := report.NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}
	checkers := map[string]health.Checker{
		"database": health.CheckerFunc(func(context.Context) error { return errors.New("down") }),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(opsHandler(reg, checkers, logger))
	defer srv.Close()

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/health", http.StatusOK, `"status":"healthy"`},
		{"/ready", http.StatusServiceUnavailable, `"database":"error"`},
		{"/metrics", http.StatusOK, report.MetricLinesScannedTotal},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", body, tt.wantBody)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestChannelAndVisibility(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want string
	}{
		{config.Config{Env: "PROD"}, notify.ChannelProduction},
		{config.Config{Env: "staging"}, notify.ChannelDefault},
		{config.Config{Env: "PROD", SlackChannel: "#audit"}, "#audit"},
	}
	for _, tt := range tests {
		if got := channel(&tt.cfg); got != tt.want {
			t.Errorf("channel(%+v) = %s, want %s", tt.cfg, got, tt.want)
		}
	}

	if visibility(true) != storage.VisibilityPublic || visibility(false) != storage.VisibilityPrivate {
		t.Error("visibility() mapping is wrong")
	}
}

func TestNewNotifier_FallsBackToLogOutsideProduction(t *testing.T) {
	cfg := &config.Config{Env: "development"}
	n, err := newNotifier(context.Background(), cfg, nil, slog.Default())
	if err != nil {
		t.Fatalf("newNotifier() error = %v", err)
	}
	if _, ok := n.(notify.LogNotifier); !ok {
		t.Errorf("newNotifier() = %T, want LogNotifier", n)
	}

	cfg.SlackToken = "xoxb-test"
	n, err = newNotifier(context.Background(), cfg, nil, slog.Default())
	if err != nil {
		t.Fatalf("newNotifier() error = %v", err)
	}
	if _, ok := n.(*notify.SlackNotifier); !ok {
		t.Errorf("newNotifier() = %T, want *SlackNotifier", n)
	}
}
