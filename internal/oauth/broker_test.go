package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/birthdayd/internal/apperror"
)

func newTestBroker(handler http.HandlerFunc) (*Broker, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewBrokerForEndpoints(srv.Client(), srv.URL, srv.URL), srv
}

func TestFetchAccessToken(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "1//refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.token","expires_in":3599}`))
	})
	defer srv.Close()

	token, err := broker.FetchAccessToken(context.Background(), "id", "secret", "1//refresh")
	if err != nil {
		t.Fatalf("FetchAccessToken: %v", err)
	}
	if token != "ya29.token" {
		t.Errorf("token = %q", token)
	}
}

func TestFetchAccessTokenRejected(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})
	defer srv.Close()

	_, err := broker.FetchAccessToken(context.Background(), "id", "secret", "1//stale")
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != apperror.CodeTokenFetchFailed {
		t.Errorf("code = %q", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "expired or revoked") {
		t.Errorf("message should carry the upstream description, got %q", appErr.Message)
	}
}

func TestFetchAccessTokenMissingToken(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expires_in":3599}`))
	})
	defer srv.Close()

	_, err := broker.FetchAccessToken(context.Background(), "id", "secret", "1//refresh")
	if err == nil {
		t.Fatal("expected error for missing access_token")
	}
}

func TestInitDeviceFlow(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("scope"); got != "https://mail.google.com/" {
			t.Errorf("scope = %q", got)
		}
		w.Write([]byte(`{
			"device_code": "dev-123",
			"user_code": "ABCD-EFGH",
			"verification_url": "https://www.google.com/device",
			"interval": 5,
			"expires_in": 1800
		}`))
	})
	defer srv.Close()

	auth, err := broker.InitDeviceFlow(context.Background(), "client-id")
	if err != nil {
		t.Fatalf("InitDeviceFlow: %v", err)
	}
	if auth.DeviceCode != "dev-123" || auth.UserCode != "ABCD-EFGH" {
		t.Errorf("unexpected authorization: %+v", auth)
	}
}

func TestInitDeviceFlowDefaults(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_code":"dev-123","user_code":"ABCD-EFGH"}`))
	})
	defer srv.Close()

	auth, err := broker.InitDeviceFlow(context.Background(), "client-id")
	if err != nil {
		t.Fatal(err)
	}
	if auth.VerificationURL != "https://www.google.com/device" {
		t.Errorf("verification_url default missing: %q", auth.VerificationURL)
	}
	if auth.Interval != 5 || auth.ExpiresIn != 1800 {
		t.Errorf("interval/expiry defaults missing: %+v", auth)
	}
}

func TestInitDeviceFlowError(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client","error_description":"The OAuth client was not found."}`))
	})
	defer srv.Close()

	_, err := broker.InitDeviceFlow(context.Background(), "bogus")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "OAuth client was not found") {
		t.Errorf("error should carry the upstream description, got %v", err)
	}
}

func TestPollDeviceFlowStatuses(t *testing.T) {
	cases := []struct {
		name string
		body string
		want DeviceAuthStatus
	}{
		{"pending", `{"error":"authorization_pending"}`, StatusPending},
		{"slow down", `{"error":"slow_down"}`, StatusSlowDown},
		{"expired", `{"error":"expired_token"}`, StatusExpired},
		{"denied", `{"error":"access_denied","error_description":"The user denied access."}`, StatusError},
		{"no refresh token", `{"access_token":"ya29.x"}`, StatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tc.body))
			})
			defer srv.Close()

			res, err := broker.PollDeviceFlow(context.Background(), "id", "secret", "dev-123")
			if err != nil {
				t.Fatalf("PollDeviceFlow: %v", err)
			}
			if res.Status != tc.want {
				t.Errorf("status = %q, want %q", res.Status, tc.want)
			}
			if res.RefreshToken != "" {
				t.Error("refresh token must be empty outside success")
			}
		})
	}
}

func TestPollDeviceFlowSuccess(t *testing.T) {
	broker, srv := newTestBroker(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "urn:ietf:params:oauth:grant-type:device_code" {
			t.Errorf("grant_type = %q", got)
		}
		w.Write([]byte(`{"access_token":"ya29.x","refresh_token":"1//granted"}`))
	})
	defer srv.Close()

	res, err := broker.PollDeviceFlow(context.Background(), "id", "secret", "dev-123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q", res.Status)
	}
	if res.RefreshToken != "1//granted" {
		t.Errorf("refresh token = %q", res.RefreshToken)
	}
}

func TestBuildXOAUTH2(t *testing.T) {
	got := BuildXOAUTH2("me@gmail.com", "ya29.token")

	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("output is not base64: %v", err)
	}
	want := "user=me@gmail.com\x01auth=Bearer ya29.token\x01\x01"
	if string(decoded) != want {
		t.Errorf("payload = %q, want %q", decoded, want)
	}
}
