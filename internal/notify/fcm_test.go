package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"airguard/internal/notify"
)

func TestFCMSink_Send(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       bool
		wantPermanent bool
	}{
		{"delivered", http.StatusOK, `{"success":1,"failure":0,"results":[{"message_id":"m1"}]}`, false, false},
		{"not registered", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`, true, true},
		{"invalid registration", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"InvalidRegistration"}]}`, true, true},
		{"unavailable", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"Unavailable"}]}`, true, false},
		{"unregistered 404", http.StatusNotFound, `{"error":{"status":"UNREGISTERED"}}`, true, true},
		{"server error", http.StatusInternalServerError, ``, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			var gotReq map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&gotReq)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sink := notify.NewFCMSink(notify.FCMConfig{Endpoint: srv.URL, ServerKey: "secret"})
			err := sink.Send(context.Background(), "device-token-one", notify.Message{Title: "Hi", Body: "there"})

			if (err != nil) != tt.wantErr {
				t.Fatalf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
			if notify.IsPermanent(err) != tt.wantPermanent {
				t.Errorf("IsPermanent() = %v, want %v (err %v)", notify.IsPermanent(err), tt.wantPermanent, err)
			}
			if gotAuth != "key=secret" {
				t.Errorf("unexpected Authorization header %q", gotAuth)
			}
			if gotReq["to"] != "device-token-one" {
				t.Errorf("unexpected recipient %v", gotReq["to"])
			}
		})
	}
}
