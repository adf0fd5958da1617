package crypto

import (
	"bytes"
	"strings"
	"testing"
)

var cheapArgon2 = Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}
}

func TestArgon2Hasher_HashIsSaltedAndEncoded(t *testing.T) {
	t.Parallel()

	h := NewArgon2Hasher(cheapArgon2)
	h1, err := h.Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := h.Hash("p@ssw0rd")
	if err != nil {
		t.Fatalf("Hash(2): %v", err)
	}
	if !strings.HasPrefix(h1, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h1)
	}
	if h1 == h2 {
		t.Fatalf("hashes of the same password must differ by salt")
	}
}

func TestArgon2Hasher_Verify(t *testing.T) {
	t.Parallel()

	h := NewArgon2Hasher(cheapArgon2)
	enc, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if !h.Verify("correct horse battery staple", enc) {
		t.Fatalf("Verify: expected true for correct password")
	}
	if h.Verify("wrong", enc) {
		t.Fatalf("Verify: expected false for wrong password")
	}
	if h.Verify("", enc) {
		t.Fatalf("Verify: expected false for empty password")
	}

	// parameters come from the encoded string, not from the hasher
	other := NewArgon2Hasher(DefaultArgon2)
	if !other.Verify("correct horse battery staple", enc) {
		t.Fatalf("Verify with different hasher params must still succeed")
	}
}

func TestArgon2Hasher_MalformedHashes(t *testing.T) {
	t.Parallel()

	h := NewArgon2Hasher(cheapArgon2)
	for _, bad := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		if h.Verify("x", bad) {
			t.Fatalf("Verify accepted malformed hash %q", bad)
		}
	}
}

func TestNumericCode(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		c, err := NumericCode(6)
		if err != nil {
			t.Fatalf("NumericCode: %v", err)
		}
		if len(c) != 6 {
			t.Fatalf("len=%d", len(c))
		}
		for _, r := range c {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in %q", c)
			}
		}
	}
}

func TestBackupCode(t *testing.T) {
	t.Parallel()

	c, err := BackupCode(10)
	if err != nil {
		t.Fatalf("BackupCode: %v", err)
	}
	if len(c) != 10 || strings.Trim(c, backupAlpha) != "" {
		t.Fatalf("bad backup code %q", c)
	}
}

func TestRefreshToken_URLSafeAndLong(t *testing.T) {
	t.Parallel()

	a, err := RefreshToken()
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	b, _ := RefreshToken()
	if a == b {
		t.Fatalf("tokens repeat")
	}
	if len(a) != 43 { // 32 bytes, base64url without padding
		t.Fatalf("len=%d", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Fatalf("token not URL-safe: %s", a)
	}
}
