package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rtchat/models"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func setupTestAPI(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	return New(srv.URL, 5*time.Second, staticToken("tok"), nil), srv.Close
}

func TestHistorySendsBearerAndCursor(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Expected bearer header, got %q", got)
		}
		if r.URL.Path != "/api/chat/chats/u2" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("cursor"); got != "c1" {
			t.Errorf("Expected cursor c1, got %q", got)
		}
		next := "c2"
		json.NewEncoder(w).Encode(models.Page{
			Data:        []models.Message{{ID: "m1", Content: "hi"}},
			NextCursor:  &next,
			HasNextPage: true,
		})
	})
	defer cleanup()

	page, err := client.History(context.Background(), "u2", "c1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page.Data) != 1 || page.Cursor() != "c2" || !page.HasNextPage {
		t.Errorf("Unexpected page %+v", page)
	}
}

func TestUnauthorizedOnAuthenticatedEndpoint(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer cleanup()

	_, err := client.Users(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestLoginFailureIsNotSessionLoss(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Login must not send a bearer token")
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
	})
	defer cleanup()

	_, err := client.Login(context.Background(), models.Credentials{Username: "a", Password: "b"})
	if errors.Is(err, ErrUnauthorized) {
		t.Fatal("Login failure must not be reported as session loss")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Errorf("Expected API error with message, got %v", err)
	}
}

func TestErrorMessagePropagates(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"message": "not your message"})
	})
	defer cleanup()

	err := client.DeleteMessage(context.Background(), "m1")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "not your message" {
		t.Errorf("Expected API error, got %v", err)
	}
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/messages/read":
			var body struct {
				MessageIDs []string `json:"messageIds"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.MessageIDs) != 2 {
				t.Errorf("Expected 2 ids, got %v", body.MessageIDs)
			}
			w.WriteHeader(http.StatusNoContent)
		case "/api/messages/unread-count":
			json.NewEncoder(w).Encode(models.UnreadCount{Count: 3})
		default:
			http.NotFound(w, r)
		}
	})
	defer cleanup()

	if err := client.MarkRead(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	n, err := client.UnreadCount(context.Background())
	if err != nil || n != 3 {
		t.Errorf("Expected 3 unread, got %d (%v)", n, err)
	}
}

func TestProfileAndUserLookup(t *testing.T) {
	client, cleanup := setupTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Unexpected method %s", r.Method)
		}
		switch r.URL.Path {
		case "/api/auth/profile":
			json.NewEncoder(w).Encode(models.User{ID: "u1", Username: "alice"})
		case "/api/users/u2":
			json.NewEncoder(w).Encode(models.User{ID: "u2", Username: "bob"})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "user not found"})
		}
	})
	defer cleanup()

	me, err := client.Profile(context.Background())
	if err != nil || me.ID != "u1" {
		t.Fatalf("Profile = %+v, %v", me, err)
	}
	u, err := client.User(context.Background(), "u2")
	if err != nil || u.Username != "bob" {
		t.Fatalf("User = %+v, %v", u, err)
	}

	_, err = client.User(context.Background(), "ghost")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "user not found" {
		t.Errorf("Expected 404 api error, got %v", err)
	}
}

func TestBaseURLTrimsSlash(t *testing.T) {
	client := New("http://localhost:4000/", time.Second, staticToken(""), nil)
	if got := client.BaseURL(); got != "http://localhost:4000" {
		t.Errorf("BaseURL() = %q", got)
	}
}
