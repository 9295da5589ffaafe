package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v, body: %s", err, rr.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	h := NewHandlers(nil, nil)

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if resp := decode(t, rr); resp.Status != "healthy" || resp.Checks["runtime"] != "ok" {
		t.Errorf("response = %+v", resp)
	}

	rr = httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rr.Code)
	}
}

func TestReady(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	failing := CheckerFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no dependencies configured",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{},
		},
		{
			name:       "all healthy",
			checkers:   map[string]Checker{"database": ok, "redis": ok, "unset": nil},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name:       "one failing",
			checkers:   map[string]Checker{"database": ok, "bucket": failing},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "ok", "bucket": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewHandlers(tt.checkers, nil).Ready(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			resp := decode(t, rr)
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks) != len(tt.wantChecks) {
				t.Errorf("Checks = %v, want %v", resp.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("Checks[%s] = %s, want %s", k, resp.Checks[k], v)
				}
			}
		})
	}
}

type fakeHeadBucket struct {
	bucket string
	err    error
}

func (f *fakeHeadBucket) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.bucket = *in.Bucket
	return &s3.HeadBucketOutput{}, f.err
}

func TestBucketChecker(t *testing.T) {
	client := &fakeHeadBucket{}
	if err := NewBucketChecker(client, "prod-reservoir").HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if client.bucket != "prod-reservoir" {
		t.Errorf("bucket = %q, want prod-reservoir", client.bucket)
	}

	client.err = errors.New("forbidden")
	if err := NewBucketChecker(client, "prod-reservoir").HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() error = nil, want error")
	}
}

func TestRedisChecker_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	if err := NewRedisChecker(client).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() against a closed port returned nil")
	}
}
