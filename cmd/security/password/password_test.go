package password

import "testing"

func TestHashAndVerify_OK(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := DefaultConfig()

	ok, err := cfg.Verify("not-a-hash", "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestVerify_RejectsExcessiveCost(t *testing.T) {
	cfg := DefaultConfig()

	// A syntactically valid hash whose memory cost is far above our own
	// settings must be refused rather than computed.
	hostile := "$argon2id$v=19$m=1048576,t=64,p=8$c29tZXNhbHRzb21lc2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"
	ok, err := cfg.Verify(hostile, "whatever")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestWithPolicy(t *testing.T) {
	cfg, err := DefaultConfig().WithPolicy(10, 200)
	if err != nil {
		t.Fatalf("WithPolicy error: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 {
		t.Fatalf("policy not applied: %+v", cfg.Policy)
	}

	if _, err := DefaultConfig().WithPolicy(20, 10); err == nil {
		t.Fatalf("expected error for min > max")
	}
}
