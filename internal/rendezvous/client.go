// Package rendezvous implements the HTTP client for the session-server:
// session creation/join, WebRTC offer/answer exchange, and the WebSocket
// fallback/trickle endpoint.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client talks to a single rendezvous base URL. A gobreaker circuit
// breaker wraps every request so a rendezvous outage fails fast instead of
// hanging every negotiation attempt for its full timeout.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New creates a Client against baseURL (e.g. "https://relay.example.com").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rendezvous",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// CreateSessionRequest is the POST /sessions body.
type CreateSessionRequest struct {
	SessionID  string `json:"session_id"`
	Passphrase string `json:"passphrase,omitempty"`
}

// CreateSessionResponse is the POST /sessions response.
type CreateSessionResponse struct {
	Success       bool              `json:"success"`
	JoinCode      string            `json:"join_code"`
	Transports    []string          `json:"transports"`
	WebSocketURL  string            `json:"websocket_url,omitempty"`
	TransportHint map[string]string `json:"transport_hints,omitempty"`
}

// CreateSession registers a new session with the rendezvous.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/sessions", req, &resp)
	return resp, err
}

// JoinRequest is the POST /sessions/{id}/join body.
type JoinRequest struct {
	Passphrase  string `json:"passphrase,omitempty"`
	ViewerToken string `json:"viewer_token,omitempty"`
	Label       string `json:"label,omitempty"`
	MCP         bool   `json:"mcp,omitempty"`
}

// JoinResponse mirrors CreateSessionResponse's shape: join returns the
// same payload shape as session creation.
type JoinResponse = CreateSessionResponse

// Join attaches to an existing session as a viewer.
func (c *Client) Join(ctx context.Context, sessionID string, req JoinRequest) (JoinResponse, error) {
	var resp JoinResponse
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/join", sessionID), req, &resp)
	return resp, err
}

// OfferRequest is the body posted to /sessions/{id}/webrtc/offer.
type OfferRequest struct {
	SDP         string          `json:"sdp,omitempty"`
	Ciphertext  string          `json:"ciphertext,omitempty"`
	Type        string          `json:"type"`
	HandshakeID string          `json:"handshake_id"`
	FromPeer    string          `json:"from_peer"`
	ToPeer      string          `json:"to_peer"`
	Sealed      *SealedEnvelope `json:"sealed,omitempty"`
}

// SealedEnvelope mirrors internal/negotiate.SealedEnvelope; duplicated
// here (rather than imported) so this package has no dependency on
// internal/negotiate, which depends on this package for transport.
type SealedEnvelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// PostOffer submits an SDP offer (or sealed equivalent) for sessionID.
func (c *Client) PostOffer(ctx context.Context, sessionID string, req OfferRequest) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/webrtc/offer", sessionID), req, nil)
}

// GetAnswer polls for the answer matching handshakeID. Callers retry on a
// short interval until the rendezvous has one (or the negotiator's overall
// timeout elapses).
func (c *Client) GetAnswer(ctx context.Context, sessionID, handshakeID string) (OfferRequest, error) {
	var resp OfferRequest
	path := fmt.Sprintf("/sessions/%s/webrtc/answer?handshake_id=%s", sessionID, handshakeID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// PostAnswer submits the answerer's SDP answer (or sealed equivalent).
func (c *Client) PostAnswer(ctx context.Context, sessionID string, req OfferRequest) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/webrtc/answer", sessionID), req, nil)
}

// ICECandidate carries one trickled candidate, sealed or plaintext.
type ICECandidate struct {
	Candidate   string          `json:"candidate,omitempty"`
	Ciphertext  string          `json:"ciphertext,omitempty"`
	HandshakeID string          `json:"handshake_id"`
	FromPeer    string          `json:"from_peer"`
	ToPeer      string          `json:"to_peer"`
	Sealed      *SealedEnvelope `json:"sealed,omitempty"`
}

// PostICECandidate trickles one ICE candidate to the peer addressed by
// cand.ToPeer.
func (c *Client) PostICECandidate(ctx context.Context, sessionID string, cand ICECandidate) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/sessions/%s/webrtc/ice", sessionID), cand, nil)
}

// GetICECandidates polls for candidates addressed to us since the last
// call (the rendezvous tracks per-peer cursors server-side).
func (c *Client) GetICECandidates(ctx context.Context, sessionID, handshakeID string) ([]ICECandidate, error) {
	var resp []ICECandidate
	path := fmt.Sprintf("/sessions/%s/webrtc/ice?handshake_id=%s", sessionID, handshakeID)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// WebSocketURL returns the fallback/trickle WebSocket endpoint for a
// session: the base URL followed by /ws/{sessionID}. The base URL's scheme
// is kept as given (an https:// base yields an https:// URL); it is not
// rewritten to ws(s)://.
func (c *Client) WebSocketURL(sessionID string) string {
	return c.baseURL + "/ws/" + sessionID
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("rendezvous %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
