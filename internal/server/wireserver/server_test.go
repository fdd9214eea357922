package wireserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/service"
	"github.com/clipmesh/clipmesh-go/internal/storage/memory"
)

// testPeer is one connected client in an end-to-end test.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	seq  int
}

func newTestServer(t *testing.T) (*Server, *Hub) {
	t.Helper()
	store := memory.New()
	hub := NewHub(nil)
	registry := service.NewRegistryService(store, hub, nil, nil)
	verify := service.NewVerifyService(store, hub, nil, nil)
	resolver := service.NewResolverService(store, hub, nil, nil)
	relay := service.NewRelayService(store, hub, nil, nil)
	liveness := service.NewLivenessService(store, hub, nil, nil)
	handler := NewHandler(registry, verify, resolver, relay, liveness, hub, nil)

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	srv := New(cfg, hub, handler, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, hub
}

func dialPeer(t *testing.T, srv *Server) *testPeer {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testPeer{t: t, conn: conn, br: bufio.NewReader(conn)}
}

// request sends a typed request and returns the matching ack data.
func (p *testPeer) request(msgType string, body any) json.RawMessage {
	p.t.Helper()
	p.seq++
	id := fmt.Sprintf("r%d", p.seq)
	raw, err := json.Marshal(body)
	if err != nil {
		p.t.Fatalf("marshal: %v", err)
	}
	env := &Envelope{Type: msgType, ID: id, Data: raw}
	out, err := json.Marshal(env)
	if err != nil {
		p.t.Fatalf("marshal envelope: %v", err)
	}
	if _, err := p.conn.Write(append(out, '\n')); err != nil {
		p.t.Fatalf("write: %v", err)
	}

	for {
		got := p.read()
		if got.ID != id {
			continue // unsolicited event, skip
		}
		if got.Type == TypeError {
			var eb ErrorBody
			_ = json.Unmarshal(got.Data, &eb)
			p.t.Fatalf("%s failed: %s %s", msgType, eb.Code, eb.Message)
		}
		return got.Data
	}
}

// requestErr sends a request and returns the err envelope body.
func (p *testPeer) requestErr(msgType string, body any) ErrorBody {
	p.t.Helper()
	p.seq++
	id := fmt.Sprintf("r%d", p.seq)
	raw, _ := json.Marshal(body)
	out, _ := json.Marshal(&Envelope{Type: msgType, ID: id, Data: raw})
	if _, err := p.conn.Write(append(out, '\n')); err != nil {
		p.t.Fatalf("write: %v", err)
	}
	for {
		got := p.read()
		if got.ID != id {
			continue
		}
		if got.Type != TypeError {
			p.t.Fatalf("%s unexpectedly succeeded", msgType)
		}
		var eb ErrorBody
		_ = json.Unmarshal(got.Data, &eb)
		return eb
	}
}

// read returns the next envelope from the server.
func (p *testPeer) read() *Envelope {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	env, err := ReadEnvelope(p.br)
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	return env
}

// await skips envelopes until one of the given type arrives.
func (p *testPeer) await(msgType string) *Envelope {
	p.t.Helper()
	for {
		env := p.read()
		if env.Type == msgType {
			return env
		}
	}
}

func TestServerSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialPeer(t, srv)
	ack := alice.request(TypeSessionCreate, map[string]any{
		"session_id": "team",
		"client_id":  "alice",
		"name":       "Alice",
	})
	var created struct {
		Success      bool `json:"success"`
		IsNewSession bool `json:"is_new_session"`
		MemberCount  int  `json:"member_count"`
	}
	if err := json.Unmarshal(ack, &created); err != nil {
		t.Fatalf("ack unmarshal: %v", err)
	}
	if !created.Success || !created.IsNewSession || created.MemberCount != 1 {
		t.Fatalf("unexpected create ack %+v", created)
	}

	// A second peer checks, then rejoins on the trusted path.
	bob := dialPeer(t, srv)
	var check struct {
		Exists bool `json:"exists"`
		Banned bool `json:"banned"`
	}
	if err := json.Unmarshal(bob.request(TypeSessionCheck, map[string]any{"session_id": "team"}), &check); err != nil {
		t.Fatalf("check unmarshal: %v", err)
	}
	if !check.Exists || check.Banned {
		t.Fatalf("unexpected check ack %+v", check)
	}

	bob.request(TypeSessionJoin, map[string]any{
		"session_id": "team",
		"client_id":  "bob",
	})

	// Alice hears about the join.
	alice.await("member-joined")
	alice.await("member-list-update")

	// Bob publishes a clipboard update; Alice receives the broadcast.
	var applied struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(bob.request(TypeClipUpdate, map[string]any{
		"type":    "text",
		"content": "hello from bob",
	}), &applied); err != nil {
		t.Fatalf("update unmarshal: %v", err)
	}
	if applied.Outcome != "applied" {
		t.Fatalf("outcome = %q, want applied", applied.Outcome)
	}

	env := alice.await("clipboard-broadcast")
	var clip struct {
		State struct {
			Content  string `json:"content"`
			OriginID string `json:"origin_id"`
		} `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &clip); err != nil {
		t.Fatalf("broadcast unmarshal: %v", err)
	}
	if clip.State.Content != "hello from bob" || clip.State.OriginID != "bob" {
		t.Fatalf("unexpected broadcast %+v", clip.State)
	}
}

func TestServerVerifiedJoinFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialPeer(t, srv)
	alice.request(TypeSessionCreate, map[string]any{
		"session_id": "secure",
		"client_id":  "alice",
	})

	// Carol asks to join; the server relays her challenge to Alice.
	carol := dialPeer(t, srv)
	var pending struct {
		Accepted       bool `json:"accepted"`
		AutoAuthorized bool `json:"auto_authorized"`
	}
	if err := json.Unmarshal(carol.request(TypeVerifyRequest, map[string]any{
		"session_id": "secure",
		"client_id":  "carol",
		"challenge":  "opaque-encrypted-blob",
	}), &pending); err != nil {
		t.Fatalf("verify unmarshal: %v", err)
	}
	if !pending.Accepted || pending.AutoAuthorized {
		t.Fatalf("expected pending verification, got %+v", pending)
	}

	ask := alice.await("verify-join-request")
	var vr struct {
		RequestID string `json:"request_id"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(ask.Data, &vr); err != nil {
		t.Fatalf("ask unmarshal: %v", err)
	}
	if vr.Challenge != "opaque-encrypted-blob" {
		t.Fatal("challenge must be relayed undecrypted")
	}

	// Alice approves; Carol gets the verdict.
	alice.request(TypeVerifySubmit, map[string]any{
		"session_id": "secure",
		"request_id": vr.RequestID,
		"approved":   true,
	})

	verdict := carol.await("verification-result")
	var result struct {
		Approved bool `json:"approved"`
	}
	if err := json.Unmarshal(verdict.Data, &result); err != nil {
		t.Fatalf("verdict unmarshal: %v", err)
	}
	if !result.Approved {
		t.Fatal("expected approval")
	}

	// Carol is in the room by the time the approval fans out, so she
	// receives the initial roster without having to pull it.
	rosterEnv := carol.await("member-list-update")
	var roster struct {
		Members []struct {
			ClientID string `json:"client_id"`
		} `json:"members"`
	}
	if err := json.Unmarshal(rosterEnv.Data, &roster); err != nil {
		t.Fatalf("roster unmarshal: %v", err)
	}
	found := false
	for _, m := range roster.Members {
		if m.ClientID == "carol" {
			found = true
		}
	}
	if !found {
		t.Fatalf("joiner missing from its own roster update: %+v", roster.Members)
	}

	// Carol is now a full member and can publish.
	var applied struct {
		Outcome string `json:"outcome"`
	}
	if err := json.Unmarshal(carol.request(TypeClipUpdate, map[string]any{
		"session_id": "secure",
		"type":       "text",
		"content":    "carol was here",
	}), &applied); err != nil {
		t.Fatalf("update unmarshal: %v", err)
	}
	if applied.Outcome != "applied" {
		t.Fatalf("outcome = %q, want applied", applied.Outcome)
	}
	alice.await("clipboard-broadcast")
}

func TestServerDeniedJoinBansSession(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialPeer(t, srv)
	alice.request(TypeSessionCreate, map[string]any{
		"session_id": "secure",
		"client_id":  "alice",
	})

	mallory := dialPeer(t, srv)
	mallory.request(TypeVerifyRequest, map[string]any{
		"session_id": "secure",
		"client_id":  "mallory",
		"challenge":  "wrong-guess",
	})

	ask := alice.await("verify-join-request")
	var vr struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(ask.Data, &vr); err != nil {
		t.Fatalf("ask unmarshal: %v", err)
	}
	alice.request(TypeVerifySubmit, map[string]any{
		"session_id": "secure",
		"request_id": vr.RequestID,
		"approved":   false,
	})

	// The whole session is told and later checks report the ban.
	alice.await("session-banned")

	probe := dialPeer(t, srv)
	var check struct {
		Exists bool `json:"exists"`
		Banned bool `json:"banned"`
	}
	if err := json.Unmarshal(probe.request(TypeSessionCheck, map[string]any{"session_id": "secure"}), &check); err != nil {
		t.Fatalf("check unmarshal: %v", err)
	}
	if !check.Exists || !check.Banned {
		t.Fatalf("unexpected check after denial %+v", check)
	}
}

func TestServerChunkRelay(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dialPeer(t, srv)
	alice.request(TypeSessionCreate, map[string]any{"session_id": "team", "client_id": "alice"})
	bob := dialPeer(t, srv)
	bob.request(TypeSessionJoin, map[string]any{"session_id": "team", "client_id": "bob"})

	var meta struct {
		TransferID string `json:"transfer_id"`
	}
	if err := json.Unmarshal(alice.request(TypeFileMetadata, map[string]any{
		"file_name":   "big.bin",
		"size":        3 * 64 * 1024,
		"chunk_count": 3,
	}), &meta); err != nil {
		t.Fatalf("metadata unmarshal: %v", err)
	}

	for i := 0; i < 3; i++ {
		alice.request(TypeFileChunk, map[string]any{
			"transfer_id": meta.TransferID,
			"index":       i,
			"total":       3,
			"data":        fmt.Sprintf("chunk-%d", i),
		})
	}

	bob.await("file-metadata")
	for i := 0; i < 3; i++ {
		env := bob.await("file-chunk")
		var chunk struct {
			TransferID string `json:"transfer_id"`
			Index      int    `json:"index"`
			Data       string `json:"data"`
			Last       bool   `json:"last"`
		}
		if err := json.Unmarshal(env.Data, &chunk); err != nil {
			t.Fatalf("chunk unmarshal: %v", err)
		}
		if chunk.TransferID != meta.TransferID || chunk.Index != i {
			t.Fatalf("chunk order broken: %+v at position %d", chunk, i)
		}
		if chunk.Data != fmt.Sprintf("chunk-%d", i) {
			t.Fatalf("chunk payload altered: %+v", chunk)
		}
		if chunk.Last != (i == 2) {
			t.Fatalf("last flag wrong on chunk %d", i)
		}
	}
}

func TestServerUnknownTypeAndUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	peer := dialPeer(t, srv)

	eb := peer.requestErr("bogus:type", map[string]any{})
	if eb.Code != "CM-ARG-1001" {
		t.Fatalf("code = %q, want CM-ARG-1001", eb.Code)
	}

	eb = peer.requestErr(TypeSessionJoin, map[string]any{"session_id": "ghost"})
	if eb.Code != "CM-AUTH-4010" {
		t.Fatalf("code = %q, want CM-AUTH-4010", eb.Code)
	}
}

func TestServerDisconnectCleansUpMembership(t *testing.T) {
	srv, hub := newTestServer(t)

	alice := dialPeer(t, srv)
	alice.request(TypeSessionCreate, map[string]any{"session_id": "team", "client_id": "alice"})
	bob := dialPeer(t, srv)
	bob.request(TypeSessionJoin, map[string]any{"session_id": "team", "client_id": "bob"})

	// Bob drops; Alice hears member-left and the room shrinks.
	_ = bob.conn.Close()
	alice.await("member-left")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(hub.RoomConns("team")) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room conns = %v, want only alice", hub.RoomConns("team"))
}
