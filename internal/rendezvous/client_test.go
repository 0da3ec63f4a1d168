package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSessionPostsBodyAndDecodesResponse(t *testing.T) {
	var gotBody CreateSessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("request = %s %s, want POST /sessions", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(CreateSessionResponse{Success: true, JoinCode: "ABCD-1234"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.CreateSession(context.Background(), CreateSessionRequest{SessionID: "s1", Passphrase: "secret"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !resp.Success || resp.JoinCode != "ABCD-1234" {
		t.Fatalf("resp = %+v, want Success=true JoinCode=ABCD-1234", resp)
	}
	if gotBody.SessionID != "s1" || gotBody.Passphrase != "secret" {
		t.Fatalf("server received %+v, want SessionID=s1 Passphrase=secret", gotBody)
	}
}

func TestJoinPostsToSessionSpecificPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(CreateSessionResponse{Success: true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Join(context.Background(), "session-42", JoinRequest{Passphrase: "p"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if gotPath != "/sessions/session-42/join" {
		t.Fatalf("gotPath = %q, want /sessions/session-42/join", gotPath)
	}
}

func TestDoJSONReturnsErrorOnNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such session"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background(), CreateSessionRequest{SessionID: "missing"}); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestGetAnswerEncodesHandshakeIDAsQueryParam(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(OfferRequest{SDP: "v=0...", Type: "answer"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.GetAnswer(context.Background(), "sess", "hs-1")
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if gotQuery != "handshake_id=hs-1" {
		t.Fatalf("gotQuery = %q, want handshake_id=hs-1", gotQuery)
	}
	if resp.SDP != "v=0..." || resp.Type != "answer" {
		t.Fatalf("resp = %+v, want SDP/Type decoded", resp)
	}
}

func TestGetICECandidatesDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]ICECandidate{
			{Candidate: "candidate:1", FromPeer: "host-1", ToPeer: "viewer-1"},
			{Candidate: "candidate:2", FromPeer: "host-1", ToPeer: "viewer-1"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	cands, err := c.GetICECandidates(context.Background(), "sess", "hs-1")
	if err != nil {
		t.Fatalf("GetICECandidates: %v", err)
	}
	if len(cands) != 2 || cands[0].Candidate != "candidate:1" {
		t.Fatalf("cands = %+v, want 2 candidates starting with candidate:1", cands)
	}
}

func TestWebSocketURLBuildsWsPath(t *testing.T) {
	c := New("https://relay.example.com")
	if got := c.WebSocketURL("sess-1"); got != "https://relay.example.com/ws/sess-1" {
		t.Fatalf("WebSocketURL() = %q", got)
	}
}

func TestPostOfferAndPostAnswerAndPostICECandidateSucceedOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.PostOffer(context.Background(), "sess", OfferRequest{SDP: "v=0", Type: "offer"}); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if err := c.PostAnswer(context.Background(), "sess", OfferRequest{SDP: "v=0", Type: "answer"}); err != nil {
		t.Fatalf("PostAnswer: %v", err)
	}
	if err := c.PostICECandidate(context.Background(), "sess", ICECandidate{Candidate: "c", ToPeer: "x"}); err != nil {
		t.Fatalf("PostICECandidate: %v", err)
	}
}
