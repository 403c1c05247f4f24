// Package bluesky posts text records to a Bluesky PDS.
//
// It wraps the indigo XRPC client around the two procedures a publisher
// needs: com.atproto.server.createSession and com.atproto.repo.createRecord.
package bluesky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

// DefaultHost is the PDS entryway used when no host is configured.
const DefaultHost = "https://bsky.social"

// PostCollection is the record collection for feed posts.
const PostCollection = "app.bsky.feed.post"

// ErrNoSession is returned when a post is attempted without a session.
var ErrNoSession = errors.New("bluesky: no active session")

// Session is an authenticated account session.
type Session struct {
	AccessJwt  string
	RefreshJwt string
	Handle     string
	DID        string
}

func (s *Session) authInfo() *xrpc.AuthInfo {
	return &xrpc.AuthInfo{
		AccessJwt:  s.AccessJwt,
		RefreshJwt: s.RefreshJwt,
		Handle:     s.Handle,
		Did:        s.DID,
	}
}

// StatusCode returns the HTTP status of a failed XRPC call, or 0 when err
// did not come from a PDS response.
func StatusCode(err error) int {
	var xe *xrpc.Error
	if errors.As(err, &xe) {
		return xe.StatusCode
	}
	return 0
}

// Opts holds configuration for the client.
type Opts struct {
	Host       string
	HTTPClient *http.Client
	Langs      []string
}

// Option configures the client.
type Option func(*Opts)

// WithHost sets the PDS base URL.
func WithHost(host string) Option {
	return func(o *Opts) { o.Host = host }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = hc }
}

// WithLangs sets the language tags attached to every post.
func WithLangs(langs ...string) Option {
	return func(o *Opts) { o.Langs = langs }
}

// Client talks XRPC to a single PDS.
type Client struct {
	host  string
	http  *http.Client
	langs []string
}

// NewClient creates a client. The host defaults to DefaultHost.
func NewClient(opts ...Option) *Client {
	cfg := Opts{Langs: []string{"en"}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		host:  strings.TrimRight(cfg.Host, "/"),
		http:  cfg.HTTPClient,
		langs: cfg.Langs,
	}
}

// Host returns the PDS base URL.
func (c *Client) Host() string {
	return c.host
}

func (c *Client) xrpcClient(auth *xrpc.AuthInfo) *xrpc.Client {
	return &xrpc.Client{Client: c.http, Host: c.host, Auth: auth}
}

// CreateSession logs in with a handle (or email) and app password.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	out, err := atproto.ServerCreateSession(ctx, c.xrpcClient(nil), &atproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   password,
	})
	if err != nil {
		return nil, fmt.Errorf("bluesky: createSession: %w", err)
	}
	if out.AccessJwt == "" || out.Did == "" {
		return nil, fmt.Errorf("bluesky: createSession returned an incomplete session")
	}
	slog.Debug("Client.CreateSession: authenticated", "handle", out.Handle, "did", out.Did)
	return &Session{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		DID:        out.Did,
	}, nil
}

// CreatePost publishes a text post and returns its AT URI.
func (c *Client) CreatePost(ctx context.Context, session *Session, text string, createdAt time.Time) (string, error) {
	if session == nil || session.AccessJwt == "" {
		return "", ErrNoSession
	}
	post := &bsky.FeedPost{
		Text:      text,
		CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		Langs:     c.langs,
	}
	out, err := atproto.RepoCreateRecord(ctx, c.xrpcClient(session.authInfo()), &atproto.RepoCreateRecord_Input{
		Repo:       session.DID,
		Collection: PostCollection,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return "", fmt.Errorf("bluesky: createRecord: %w", err)
	}
	if out.Uri == "" {
		return "", fmt.Errorf("bluesky: createRecord returned no uri")
	}
	slog.Debug("Client.CreatePost: created record", "uri", out.Uri, "cid", out.Cid)
	return out.Uri, nil
}
