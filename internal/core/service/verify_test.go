package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clipmesh/clipmesh-go/internal/core/domain"
	"github.com/clipmesh/clipmesh-go/internal/storage/memory"
)

func newVerify(t *testing.T, opts ...VerifyOption) (*VerifyService, *memory.Store, *mockBroadcaster) {
	t.Helper()
	store := memory.New()
	bcast := newMockBroadcaster()
	return NewVerifyService(store, bcast, nil, nil, opts...), store, bcast
}

func TestRequestJoinAutoAuthorizesEmptySession(t *testing.T) {
	svc, store, bcast := newVerify(t)
	seedSession(t, store, "team", nil)

	resp, err := svc.RequestJoin(context.Background(), &RequestJoinRequest{
		SessionID: "team",
		ConnID:    "c1",
		Name:      "alice",
		Challenge: "blob",
	})
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if !resp.Accepted || !resp.AutoAuthorized {
		t.Fatalf("expected auto-authorization, got %+v", resp)
	}
	if svc.PendingCount() != 0 {
		t.Fatal("auto-authorization must not leave a pending request")
	}
	if got := bcast.eventsOf(EventVerifyJoinRequest); len(got) != 0 {
		t.Fatal("no vouching request expected for an empty session")
	}
	if got := bcast.eventsOf(EventMemberJoined); len(got) != 1 {
		t.Fatalf("member-joined events = %d, want 1", len(got))
	}

	err = store.View(context.Background(), "team", func(sess *domain.Session) error {
		m, ok := sess.Members["c1"]
		if !ok || !m.Authorized {
			t.Fatal("joiner not stored as an authorized member")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestRequestJoinRelaysChallengeToVouchers(t *testing.T) {
	svc, store, bcast := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice", "v2": "bob"})

	resp, err := svc.RequestJoin(context.Background(), &RequestJoinRequest{
		SessionID: "team",
		ConnID:    "joiner",
		ClientID:  "carol",
		Challenge: "encrypted-blob",
	})
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if !resp.Accepted || resp.AutoAuthorized {
		t.Fatalf("expected a pending verification, got %+v", resp)
	}
	if svc.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", svc.PendingCount())
	}

	asks := bcast.eventsOf(EventVerifyJoinRequest)
	if len(asks) != 2 {
		t.Fatalf("verify-join-request deliveries = %d, want one per voucher", len(asks))
	}
	p := asks[0].Payload.(VerifyJoinRequestPayload)
	if p.Challenge != "encrypted-blob" || p.RequestID != "joiner" {
		t.Fatalf("unexpected relay payload %+v", p)
	}

	// The joiner is not a member until a verdict lands.
	err = store.View(context.Background(), "team", func(sess *domain.Session) error {
		if _, ok := sess.Members["joiner"]; ok {
			t.Fatal("joiner admitted before any verdict")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestRequestJoinUnknownSessionIsDenied(t *testing.T) {
	svc, _, _ := newVerify(t)

	_, err := svc.RequestJoin(context.Background(), &RequestJoinRequest{
		SessionID: "ghost",
		ConnID:    "c1",
		Challenge: "blob",
	})
	if !errors.Is(err, domain.ErrJoinDenied) {
		t.Fatalf("expected CM-AUTH-4010, got %v", err)
	}
}

func TestSubmitVerdictApprovedAdmitsJoiner(t *testing.T) {
	svc, store, bcast := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joiner", "carol")
	bcast.reset()

	err := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joiner",
		Approved:      true,
	})
	if err != nil {
		t.Fatalf("SubmitVerdict: %v", err)
	}

	results := bcast.eventsOf(EventVerificationResult)
	if len(results) != 1 || results[0].ConnID != "joiner" {
		t.Fatalf("unexpected verification-result deliveries %+v", results)
	}
	if !results[0].Payload.(VerificationResultPayload).Approved {
		t.Fatal("result must report approval")
	}

	err = store.View(context.Background(), "team", func(sess *domain.Session) error {
		m, ok := sess.Members["joiner"]
		if !ok || !m.Authorized {
			t.Fatal("approved joiner not stored as an authorized member")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestSubmitVerdictDeniedBansSession(t *testing.T) {
	svc, store, bcast := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joiner", "mallory")
	bcast.reset()

	err := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joiner",
		Approved:      false,
	})
	if err != nil {
		t.Fatalf("SubmitVerdict: %v", err)
	}

	results := bcast.eventsOf(EventVerificationResult)
	if len(results) != 1 || results[0].Payload.(VerificationResultPayload).Approved {
		t.Fatalf("expected a denial result, got %+v", results)
	}
	if got := bcast.eventsOf(EventSessionBanned); len(got) != 1 {
		t.Fatalf("session-banned events = %d, want 1", len(got))
	}

	err = store.View(context.Background(), "team", func(sess *domain.Session) error {
		if !sess.Banned {
			t.Fatal("session must be banned after a denial")
		}
		if _, ok := sess.Members["joiner"]; ok {
			t.Fatal("denied joiner must not be admitted")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestSubmitVerdictApproveAfterBanDoesNotAdmit(t *testing.T) {
	svc, store, bcast := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joinA", "mallory")
	mustRequestJoin(t, svc, "team", "joinB", "carol")

	// Denying the first candidate bans the session.
	err := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joinA",
		Approved:      false,
	})
	if err != nil {
		t.Fatalf("deny verdict: %v", err)
	}
	bcast.reset()

	// An approve for the second candidate lands after the ban.
	err = svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joinB",
		Approved:      true,
	})
	if !errors.Is(err, domain.ErrSessionBanned) {
		t.Fatalf("expected CM-SESS-4030, got %v", err)
	}
	if svc.PendingCount() != 0 {
		t.Fatal("post-ban verdict must still resolve the request")
	}

	err = store.View(context.Background(), "team", func(sess *domain.Session) error {
		if _, ok := sess.Members["joinB"]; ok {
			t.Fatal("joiner admitted into a banned session")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}

	// The waiting candidate hears about the ban instead of hanging.
	banned := bcast.eventsOf(EventSessionBanned)
	if len(banned) != 1 || banned[0].ConnID != "joinB" {
		t.Fatalf("unexpected session-banned deliveries %+v", banned)
	}
}

func TestSubmitVerdictFirstVerdictWins(t *testing.T) {
	svc, store, _ := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice", "v2": "bob"})
	mustRequestJoin(t, svc, "team", "joiner", "carol")

	first := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joiner",
		Approved:      true,
	})
	if first != nil {
		t.Fatalf("first verdict: %v", first)
	}

	second := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v2",
		TargetConnID:  "joiner",
		Approved:      false,
	})
	if !errors.Is(second, domain.ErrVerificationNotFound) {
		t.Fatalf("expected CM-VER-4040 for a late verdict, got %v", second)
	}

	// The late denial must not have banned the session.
	err := store.View(context.Background(), "team", func(sess *domain.Session) error {
		if sess.Banned {
			t.Fatal("late verdict changed the outcome")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestSubmitVerdictRequiresAuthorizedVoucher(t *testing.T) {
	svc, store, _ := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joiner", "carol")

	err := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "stranger",
		TargetConnID:  "joiner",
		Approved:      true,
	})
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("expected CM-AUTH-4030, got %v", err)
	}
	if svc.PendingCount() != 1 {
		t.Fatal("rejected verdict must keep the request pending")
	}
}

func TestSweepTimesOutExpiredRequests(t *testing.T) {
	now := time.Now()
	svc, store, bcast := newVerify(t,
		WithVerifyTimeout(30*time.Second),
		WithVerifyClock(func() time.Time { return now }))
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joiner", "carol")

	if n := svc.Sweep(now.Add(29 * time.Second)); n != 0 {
		t.Fatalf("premature sweep expired %d requests", n)
	}
	if n := svc.Sweep(now.Add(31 * time.Second)); n != 1 {
		t.Fatalf("sweep expired %d requests, want 1", n)
	}
	if svc.PendingCount() != 0 {
		t.Fatal("expired request still pending")
	}

	timeouts := bcast.eventsOf(EventVerificationTimeout)
	if len(timeouts) != 1 || timeouts[0].ConnID != "joiner" {
		t.Fatalf("unexpected timeout deliveries %+v", timeouts)
	}
	// A timeout is not a denial: the session stays usable.
	err := store.View(context.Background(), "team", func(sess *domain.Session) error {
		if sess.Banned {
			t.Fatal("timeout must not ban the session")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestCancelConnDropsPendingRequest(t *testing.T) {
	svc, store, _ := newVerify(t)
	seedSession(t, store, "team", map[string]string{"v1": "alice"})
	mustRequestJoin(t, svc, "team", "joiner", "carol")

	svc.CancelConn("joiner")
	if svc.PendingCount() != 0 {
		t.Fatal("disconnect must clear the pending request")
	}

	err := svc.SubmitVerdict(context.Background(), &SubmitVerdictRequest{
		SessionID:     "team",
		VoucherConnID: "v1",
		TargetConnID:  "joiner",
		Approved:      true,
	})
	if !errors.Is(err, domain.ErrVerificationNotFound) {
		t.Fatalf("expected CM-VER-4040 after cancel, got %v", err)
	}
}

func mustRequestJoin(t *testing.T, svc *VerifyService, sessionID, connID, clientID string) {
	t.Helper()
	resp, err := svc.RequestJoin(context.Background(), &RequestJoinRequest{
		SessionID: sessionID,
		ConnID:    connID,
		ClientID:  clientID,
		Challenge: "blob",
	})
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if resp.AutoAuthorized {
		t.Fatal("expected a pending verification")
	}
}
