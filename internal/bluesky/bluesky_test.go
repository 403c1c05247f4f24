package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluesky-social/indigo/xrpc"
)

type postRecord struct {
	Type      string   `json:"$type"`
	Text      string   `json:"text"`
	CreatedAt string   `json:"createdAt"`
	Langs     []string `json:"langs"`
}

type fakePDS struct {
	t        *testing.T
	password string
	posts    []postRecord
	repos    []string
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode createSession: %v", err)
		}
		if body["password"] != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  "access-token",
			"refreshJwt": "refresh-token",
			"handle":     body["identifier"],
			"did":        "did:plc:voterbot",
		})
	case "/xrpc/com.atproto.repo.createRecord":
		if got := r.Header.Get("Authorization"); got != "Bearer access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"InvalidToken","message":"bad token"}`))
			return
		}
		var body struct {
			Repo       string     `json:"repo"`
			Collection string     `json:"collection"`
			Record     postRecord `json:"record"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Errorf("decode createRecord: %v", err)
		}
		f.repos = append(f.repos, body.Repo)
		f.posts = append(f.posts, body.Record)
		_, _ = w.Write([]byte(`{"uri":"at://did:plc:voterbot/app.bsky.feed.post/3k1","cid":"bafy"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}
}

func TestCreateSessionAndPost(t *testing.T) {
	pds := &fakePDS{t: t, password: "app-pass"}
	srv := httptest.NewServer(pds)
	defer srv.Close()

	c := NewClient(WithHost(srv.URL+"/"), WithHTTPClient(srv.Client()))
	if c.Host() != srv.URL {
		t.Errorf("Host() = %q, want trailing slash trimmed", c.Host())
	}

	ctx := context.Background()
	session, err := c.CreateSession(ctx, "voterbot.bsky.social", "app-pass")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.DID != "did:plc:voterbot" || session.Handle != "voterbot.bsky.social" {
		t.Errorf("session = %+v", session)
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("NZDT", 13*3600))
	uri, err := c.CreatePost(ctx, session, "NZES 2023 profile.", at)
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if uri != "at://did:plc:voterbot/app.bsky.feed.post/3k1" {
		t.Errorf("uri = %q", uri)
	}
	if len(pds.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(pds.posts))
	}
	post := pds.posts[0]
	if post.Type != PostCollection || post.Text != "NZES 2023 profile." {
		t.Errorf("post = %+v", post)
	}
	if post.CreatedAt != "2024-02-29T23:00:00Z" {
		t.Errorf("createdAt = %q, want UTC", post.CreatedAt)
	}
	if len(post.Langs) != 1 || post.Langs[0] != "en" {
		t.Errorf("langs = %v", post.Langs)
	}
	if pds.repos[0] != "did:plc:voterbot" {
		t.Errorf("repo = %q", pds.repos[0])
	}
}

func TestCreateSessionRejected(t *testing.T) {
	srv := httptest.NewServer(&fakePDS{t: t, password: "right"})
	defer srv.Close()

	c := NewClient(WithHost(srv.URL))
	_, err := c.CreateSession(context.Background(), "voterbot", "wrong")
	if got := StatusCode(err); got != http.StatusUnauthorized {
		t.Fatalf("StatusCode(%v) = %d, want 401", err, got)
	}
	var xe *xrpc.XRPCError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *xrpc.XRPCError in chain", err)
	}
	if xe.ErrStr != "AuthenticationRequired" {
		t.Errorf("error code = %q", xe.ErrStr)
	}
}

func TestCreatePostRequiresSession(t *testing.T) {
	c := NewClient()
	if c.Host() != DefaultHost {
		t.Errorf("Host() = %q, want %q", c.Host(), DefaultHost)
	}
	if _, err := c.CreatePost(context.Background(), nil, "text", time.Now()); !errors.Is(err, ErrNoSession) {
		t.Errorf("error = %v, want ErrNoSession", err)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down\n"))
	}))
	defer srv.Close()

	c := NewClient(WithHost(srv.URL), WithLangs())
	_, err := c.CreatePost(context.Background(), &Session{AccessJwt: "x", DID: "did:plc:x"}, "text", time.Now())
	if got := StatusCode(err); got != http.StatusBadGateway {
		t.Errorf("StatusCode(%v) = %d, want 502", err, got)
	}
	if got := StatusCode(errors.New("dial tcp: refused")); got != 0 {
		t.Errorf("StatusCode(transport error) = %d, want 0", got)
	}
}
