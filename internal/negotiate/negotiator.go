// Package negotiate implements the WebRTC offer/answer handshake via the
// rendezvous, with optional AEAD-sealed signaling payloads. Grounded on
// a prior WebRTC peer-manager implementation's offer/answer handshake.
package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/beachside/beach/internal/rendezvous"
	"github.com/beachside/beach/internal/transport"
)

// Role determines who creates the offer.
type Role int

const (
	Offerer Role = iota
	Answerer
)

const (
	iceGatherTimeout  = 10 * time.Second
	channelOpenTimeout = 10 * time.Second
	handshakeTimeout  = 30 * time.Second

	primaryChannelLabel = "beach"
)

// ErrTimeout is returned when ICE gathering (iceGatherTimeout), the data
// channel opening (channelOpenTimeout) or the handshake as a whole
// (handshakeTimeout) runs out of time; callers fall back to WebSocket.
var ErrTimeout = fmt.Errorf("negotiate: timeout")

// Config configures one negotiation attempt.
type Config struct {
	Role        Role
	SessionID   string
	SelfPeer    string
	RemotePeer  string
	Passphrase  string // empty disables sealing
	ICEServers  []webrtc.ICEServer
	Rendezvous  *rendezvous.Client
}

// sdpPayload is the JSON body carried (sealed or plaintext) for an offer
// or answer.
type sdpPayload struct {
	SDP string `json:"sdp"`
}

// icePayload is the JSON body carried (sealed or plaintext) for one
// trickled ICE candidate.
type icePayload struct {
	Candidate string `json:"candidate"`
}

// Negotiate runs the full offer/answer + ICE exchange and returns a
// Transport handle for the primary "beach" data channel once it reaches
// Open, or ErrTimeout on expiry.
func Negotiate(ctx context.Context, cfg Config) (transport.Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	handshakeID := uuid.New().String()
	keyBox := &handshakeKeyBox{}

	seal := func(plaintext []byte) (string, *rendezvous.SealedEnvelope, error) {
		if cfg.Passphrase == "" {
			return string(plaintext), nil, nil
		}
		env, key, err := Seal(cfg.SessionID, cfg.Passphrase, handshakeID, keyBox.get(), plaintext)
		if err != nil {
			return "", nil, err
		}
		keyBox.set(key)
		return "", &rendezvous.SealedEnvelope{Version: env.Version, Nonce: env.Nonce, Ciphertext: env.Ciphertext}, nil
	}
	unseal := func(sdp string, sealed *rendezvous.SealedEnvelope) ([]byte, error) {
		if sealed == nil {
			return []byte(sdp), nil
		}
		env := SealedEnvelope{Version: sealed.Version, Nonce: sealed.Nonce, Ciphertext: sealed.Ciphertext}
		plaintext, key, err := Unseal(cfg.SessionID, cfg.Passphrase, handshakeID, keyBox.get(), env)
		if err != nil {
			return nil, err
		}
		keyBox.set(key)
		return plaintext, nil
	}

	stopTrickle := trickleICE(ctx, pc, cfg, handshakeID, seal, unseal)
	defer stopTrickle()

	dcCh := make(chan *webrtc.DataChannel, 1)

	switch cfg.Role {
	case Offerer:
		dc, err := pc.CreateDataChannel(primaryChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		dc.OnOpen(func() { dcCh <- dc })

		if err := runOfferer(ctx, pc, cfg, handshakeID, seal, unseal); err != nil {
			pc.Close()
			return nil, err
		}

	case Answerer:
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == primaryChannelLabel {
				dc.OnOpen(func() { dcCh <- dc })
			}
		})

		if err := runAnswerer(ctx, pc, cfg, handshakeID, seal, unseal); err != nil {
			pc.Close()
			return nil, err
		}
	}

	select {
	case dc := <-dcCh:
		return transport.NewWebRTC(dc), nil
	case <-time.After(channelOpenTimeout):
		pc.Close()
		return nil, ErrTimeout
	case <-ctx.Done():
		pc.Close()
		return nil, ErrTimeout
	}
}

type sealFn func(plaintext []byte) (sdp string, sealed *rendezvous.SealedEnvelope, err error)
type unsealFn func(sdp string, sealed *rendezvous.SealedEnvelope) ([]byte, error)

// handshakeKeyBox holds the symmetric key established by the first sealed
// message of a handshake so later seal/unseal calls reuse it instead of
// re-deriving from the passphrase; it is written by both the SDP exchange
// and the concurrent ICE trickle goroutine, so access is mutex-guarded.
type handshakeKeyBox struct {
	mu  sync.Mutex
	key []byte
}

func (b *handshakeKeyBox) get() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

func (b *handshakeKeyBox) set(key []byte) {
	b.mu.Lock()
	b.key = key
	b.mu.Unlock()
}

// trickleICE wires local ICE candidates out to the rendezvous as they are
// discovered and feeds remote candidates back in as they arrive, per
// spec.md §4.8 step 4. It runs alongside the vanilla (gather-then-send)
// exchange in runOfferer/runAnswerer, which remains the source of truth
// for the SDP itself; trickling only shortens the time to ICE connectivity
// on networks where full candidate gathering is slow. Returns a stop
// function that halts the remote-candidate poller.
func trickleICE(ctx context.Context, pc *webrtc.PeerConnection, cfg Config, handshakeID string, seal sealFn, unseal unsealFn) func() {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		body, err := json.Marshal(icePayload{Candidate: c.ToJSON().Candidate})
		if err != nil {
			return
		}
		candStr, sealed, err := seal(body)
		if err != nil {
			return
		}
		cand := rendezvous.ICECandidate{
			Candidate:   candStr,
			HandshakeID: handshakeID,
			FromPeer:    cfg.SelfPeer,
			ToPeer:      cfg.RemotePeer,
			Sealed:      sealed,
		}
		if sealed != nil {
			cand.Ciphertext = sealed.Ciphertext
		}
		_ = cfg.Rendezvous.PostICECandidate(ctx, cfg.SessionID, cand)
	})

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
			cands, err := cfg.Rendezvous.GetICECandidates(pollCtx, cfg.SessionID, handshakeID)
			if err != nil {
				continue
			}
			for _, rc := range cands {
				raw := rc.Candidate
				var sealedEnv *rendezvous.SealedEnvelope
				if rc.Sealed != nil {
					raw = rc.Ciphertext
					sealedEnv = rc.Sealed
				}
				plain, err := unseal(raw, sealedEnv)
				if err != nil {
					continue
				}
				var payload icePayload
				if err := json.Unmarshal(plain, &payload); err != nil {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: payload.Candidate})
			}
		}
	}()
	return cancel
}

func runOfferer(ctx context.Context, pc *webrtc.PeerConnection, cfg Config, handshakeID string, seal sealFn, unseal unsealFn) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := waitGathering(ctx, gatherComplete); err != nil {
		return err
	}

	local := pc.LocalDescription()
	body, err := json.Marshal(sdpPayload{SDP: local.SDP})
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	sdpStr, sealed, err := seal(body)
	if err != nil {
		return err
	}
	req := rendezvous.OfferRequest{
		SDP:         sdpStr,
		Type:        "offer",
		HandshakeID: handshakeID,
		FromPeer:    cfg.SelfPeer,
		ToPeer:      cfg.RemotePeer,
		Sealed:      sealed,
	}
	if sealed != nil {
		req.Ciphertext = sealed.Ciphertext
	}
	if err := cfg.Rendezvous.PostOffer(ctx, cfg.SessionID, req); err != nil {
		return fmt.Errorf("post offer: %w", err)
	}

	answer, err := pollAnswer(ctx, cfg, handshakeID)
	if err != nil {
		return err
	}
	raw := answer.SDP
	if answer.Sealed != nil {
		raw = answer.Ciphertext
	}
	var sealedEnv *rendezvous.SealedEnvelope
	if answer.Sealed != nil {
		sealedEnv = answer.Sealed
	}
	plain, err := unseal(raw, sealedEnv)
	if err != nil {
		return fmt.Errorf("unseal answer: %w", err)
	}
	var payload sdpPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return fmt.Errorf("decode answer sdp: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func runAnswerer(ctx context.Context, pc *webrtc.PeerConnection, cfg Config, handshakeID string, seal sealFn, unseal unsealFn) error {
	offer, err := pollOffer(ctx, cfg, handshakeID)
	if err != nil {
		return err
	}
	raw := offer.SDP
	var sealedEnv *rendezvous.SealedEnvelope
	if offer.Sealed != nil {
		raw = offer.Ciphertext
		sealedEnv = offer.Sealed
	}
	plain, err := unseal(raw, sealedEnv)
	if err != nil {
		return fmt.Errorf("unseal offer: %w", err)
	}
	var payload sdpPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return fmt.Errorf("decode offer sdp: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: payload.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := waitGathering(ctx, gatherComplete); err != nil {
		return err
	}

	local := pc.LocalDescription()
	body, err := json.Marshal(sdpPayload{SDP: local.SDP})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	sdpStr, sealed, err := seal(body)
	if err != nil {
		return err
	}
	req := rendezvous.OfferRequest{
		SDP:         sdpStr,
		Type:        "answer",
		HandshakeID: handshakeID,
		FromPeer:    cfg.SelfPeer,
		ToPeer:      cfg.RemotePeer,
		Sealed:      sealed,
	}
	if sealed != nil {
		req.Ciphertext = sealed.Ciphertext
	}
	return cfg.Rendezvous.PostAnswer(ctx, cfg.SessionID, req)
}

func waitGathering(ctx context.Context, done <-chan struct{}) error {
	gatherCtx, cancel := context.WithTimeout(ctx, iceGatherTimeout)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-gatherCtx.Done():
		return ErrTimeout
	}
}

// pollAnswer repeatedly polls the rendezvous for the answer matching
// handshakeID until it appears or ctx is done.
func pollAnswer(ctx context.Context, cfg Config, handshakeID string) (rendezvous.OfferRequest, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := cfg.Rendezvous.GetAnswer(ctx, cfg.SessionID, handshakeID)
		if err == nil && (resp.SDP != "" || resp.Ciphertext != "") {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return rendezvous.OfferRequest{}, ErrTimeout
		case <-ticker.C:
		}
	}
}

// pollOffer mirrors pollAnswer for the answerer side; the rendezvous
// exposes the pending offer the same way it exposes the answer.
func pollOffer(ctx context.Context, cfg Config, handshakeID string) (rendezvous.OfferRequest, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := cfg.Rendezvous.GetAnswer(ctx, cfg.SessionID, handshakeID)
		if err == nil && (resp.SDP != "" || resp.Ciphertext != "") {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return rendezvous.OfferRequest{}, ErrTimeout
		case <-ticker.C:
		}
	}
}
