package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aegis/cmd/security/signer"
	"aegis/cmd/security/token"
)

// fakeStore is an in-memory Store honoring the same uniqueness rules as the
// Postgres schema.
type fakeStore struct {
	mu                  sync.Mutex
	rows                map[string]Session
	failNext            error
	hideFingerprintOnce bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Session)}
}

func (f *fakeStore) Create(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	for _, r := range f.rows {
		if r.AccountID == s.AccountID && r.UserAgent == s.UserAgent && r.IP == s.IP {
			return ErrFingerprintConflict
		}
	}
	f.rows[s.ID] = s
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeStore) FindByFingerprint(_ context.Context, accountID string, dev Device) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideFingerprintOnce {
		f.hideFingerprintOnce = false
		return Session{}, ErrSessionNotFound
	}
	for _, r := range f.rows {
		if r.AccountID == accountID && r.Device() == dev {
			return r, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (f *fakeStore) FindByRefreshHash(_ context.Context, hash string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.RefreshTokenHash == hash {
			return r, nil
		}
	}
	return Session{}, ErrSessionNotFound
}

func (f *fakeStore) CountByAccount(_ context.Context, accountID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Rotate(_ context.Context, id, newHash string, exp time.Time, rememberMe bool, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.RefreshTokenHash = newHash
	s.ExpiresAt = exp
	s.RememberMe = rememberMe
	s.UpdatedAt = now
	f.rows[id] = s
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) DeleteByRefreshHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.RefreshTokenHash == hash {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeStore) DeleteByAccount(_ context.Context, accountID, exceptHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, r := range f.rows {
		if r.AccountID == accountID && (exceptHash == "" || r.RefreshTokenHash != exceptHash) {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeStore) ListByAccount(_ context.Context, accountID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, r := range f.rows {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	tokens, err := signer.New(
		[]byte("test-access-secret-0123456789-01"),
		[]byte("test-refresh-secret-0123456789-0"),
		15*time.Minute, 24*time.Hour,
	)
	if err != nil {
		t.Fatalf("signer.New: %v", err)
	}
	store := newFakeStore()
	svc, err := NewService(DefaultConfig(), store, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

var (
	alice = signer.Identity{AccountID: "01HZALICEALICEALICEALICE00", Email: "alice@example.com", Role: "user"}

	devA = Device{UserAgent: "Firefox/126", IP: "203.0.113.1"}
	devB = Device{UserAgent: "Safari/17", IP: "203.0.113.2"}
	devC = Device{UserAgent: "Chrome/125", IP: "203.0.113.3"}
	devD = Device{UserAgent: "Edge/125", IP: "203.0.113.4"}
)

func TestAdmit_QuotaEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, dev := range []Device{devA, devB, devC} {
		if _, err := svc.AdmitOrRotate(ctx, now, alice, dev, false); err != nil {
			t.Fatalf("admit %v: %v", dev, err)
		}
	}

	_, err := svc.AdmitOrRotate(ctx, now, alice, devD, false)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("fourth device: want ErrQuotaExceeded, got %v", err)
	}

	// A known device still logs in at capacity.
	if _, err := svc.AdmitOrRotate(ctx, now, alice, devA, false); err != nil {
		t.Fatalf("known device at capacity: %v", err)
	}
}

func TestAdmit_SameDeviceRotatesInPlace(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.AdmitOrRotate(ctx, now.Add(time.Minute), alice, devA, false)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Fatalf("same device must keep its session ID: %q vs %q", first.SessionID, second.SessionID)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatalf("rotation must mint a fresh refresh token")
	}
	if n, _ := store.CountByAccount(ctx, alice.AccountID); n != 1 {
		t.Fatalf("session count = %d, want 1", n)
	}

	// The first login's token no longer matches any stored digest.
	if _, err := svc.Refresh(ctx, now.Add(2*time.Minute), first.RefreshToken, devA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("stale token after re-login: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	rotated, err := svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken, devA)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.SessionID != issued.SessionID {
		t.Fatalf("refresh must preserve the session ID")
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatalf("refresh must mint a fresh token")
	}

	// Strict one-time use.
	if _, err := svc.Refresh(ctx, now.Add(2*time.Minute), issued.RefreshToken, devA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("re-presented token: want ErrInvalidRefreshToken, got %v", err)
	}

	// The new token works.
	if _, err := svc.Refresh(ctx, now.Add(3*time.Minute), rotated.RefreshToken, devA); err != nil {
		t.Fatalf("rotated token: %v", err)
	}
}

func TestRefresh_MismatchDestroysSession(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	_, err = svc.Refresh(ctx, now.Add(time.Minute), issued.RefreshToken, devB)
	if !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("wrong device: want ErrSessionMismatch, got %v", err)
	}

	if n, _ := store.CountByAccount(ctx, alice.AccountID); n != 0 {
		t.Fatalf("mismatch must destroy the session, %d rows remain", n)
	}

	// Even the right device is cut off afterwards.
	if _, err := svc.Refresh(ctx, now.Add(2*time.Minute), issued.RefreshToken, devA); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("after destruction: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Refresh(ctx, time.Now().UTC(), raw, devA); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("Refresh(%q): want ErrInvalidRefreshToken, got %v", raw, err)
		}
	}
}

func TestRevokeAll_EmptiesAccount(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, dev := range []Device{devA, devB} {
		if _, err := svc.AdmitOrRotate(ctx, now, alice, dev, false); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}

	if err := svc.RevokeAll(ctx, alice.AccountID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n, _ := store.CountByAccount(ctx, alice.AccountID); n != 0 {
		t.Fatalf("revoke all left %d rows", n)
	}
}

func TestTerminateOthers_PreservesCaller(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mine, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("admit A: %v", err)
	}
	for _, dev := range []Device{devB, devC} {
		if _, err := svc.AdmitOrRotate(ctx, now, alice, dev, false); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}

	if err := svc.TerminateOthers(ctx, alice.AccountID, mine.RefreshToken); err != nil {
		t.Fatalf("terminate others: %v", err)
	}

	rows, _ := store.ListByAccount(ctx, alice.AccountID)
	if len(rows) != 1 {
		t.Fatalf("expected exactly the caller's session, got %d rows", len(rows))
	}
	if rows[0].RefreshTokenHash != token.HashHex(mine.RefreshToken) {
		t.Fatalf("surviving session is not the caller's")
	}

	// The caller keeps refreshing.
	if _, err := svc.Refresh(ctx, now.Add(time.Minute), mine.RefreshToken, devA); err != nil {
		t.Fatalf("caller refresh after terminate-others: %v", err)
	}
}

func TestScenario_CapacityDance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Fill the three slots.
	var issuedB Issued
	for _, dev := range []Device{devA, devB, devC} {
		out, err := svc.AdmitOrRotate(ctx, now, alice, dev, false)
		if err != nil {
			t.Fatalf("admit %v: %v", dev, err)
		}
		if dev == devB {
			issuedB = out
		}
	}

	// Device D bounces.
	if _, err := svc.AdmitOrRotate(ctx, now, alice, devD, false); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("device D at capacity: want ErrQuotaExceeded, got %v", err)
	}

	// Logging out device B frees a slot for D.
	if err := svc.TerminateByRefreshToken(ctx, issuedB.RefreshToken); err != nil {
		t.Fatalf("logout B: %v", err)
	}
	if _, err := svc.AdmitOrRotate(ctx, now, alice, devD, false); err != nil {
		t.Fatalf("device D after logout: %v", err)
	}
}

func TestAdmit_LostInsertRaceRotatesWinner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The winner's row lands between the loser's fingerprint miss and its
	// insert: hide the tuple for one lookup, then fail the insert the way
	// the unique constraint would.
	winner, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("seed winner: %v", err)
	}
	store.hideFingerprintOnce = true
	store.failNext = ErrFingerprintConflict

	out, err := svc.AdmitOrRotate(ctx, now, alice, devA, false)
	if err != nil {
		t.Fatalf("loser admit: %v", err)
	}
	if out.SessionID != winner.SessionID {
		t.Fatalf("loser must rotate the winner's row, got %q want %q", out.SessionID, winner.SessionID)
	}
	if n, _ := store.CountByAccount(ctx, alice.AccountID); n != 1 {
		t.Fatalf("race left %d rows, want 1", n)
	}
}

func TestRememberMe_ExtendsAndSticks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	issued, err := svc.AdmitOrRotate(ctx, now, alice, devA, true)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d := issued.RefreshExp.Sub(now); d < 6*24*time.Hour {
		t.Fatalf("remember-me expiry too close: %v", d)
	}

	// Refresh keeps the remembered policy without re-asking.
	rotated, err := svc.Refresh(ctx, now.Add(time.Hour), issued.RefreshToken, devA)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if d := rotated.RefreshExp.Sub(now.Add(time.Hour)); d < 6*24*time.Hour {
		t.Fatalf("refresh dropped the remembered TTL: %v", d)
	}
	sess, err := store.GetByID(ctx, issued.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !sess.RememberMe {
		t.Fatalf("remember-me flag lost on rotation")
	}
}

func TestAdmit_SameInstantDevicesGetDistinctTokens(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// All three devices log in within the same wall-clock second. Each
	// session must still hold its own refresh digest or rotation and
	// logout-all would act on the wrong rows.
	hashes := make(map[string]bool)
	for _, dev := range []Device{devA, devB, devC} {
		issued, err := svc.AdmitOrRotate(ctx, now, alice, dev, false)
		if err != nil {
			t.Fatalf("admit %v: %v", dev, err)
		}
		h := token.HashHex(issued.RefreshToken)
		if hashes[h] {
			t.Fatalf("device %v reused another session's refresh digest", dev)
		}
		hashes[h] = true
	}

	rows, err := store.ListByAccount(ctx, alice.AccountID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("sessions = %d, want 3", len(rows))
	}
	for _, r := range rows {
		if !hashes[r.RefreshTokenHash] {
			t.Fatalf("stored digest %q does not match any issued token", r.RefreshTokenHash)
		}
	}
}
