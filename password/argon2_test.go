package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerify(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", encoded)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected match for correct password")
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestHashUniqueSalts(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	first, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	second, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if first == second {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestPepperChangesDerivation(t *testing.T) {
	plain, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	cfg := testConfig()
	cfg.Pepper = []byte("server side secret pepper")
	peppered, err := NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := plain.Hash("hunter22hunter22")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := peppered.Verify("hunter22hunter22", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("peppered hasher must not accept an unpeppered hash")
	}
}

func TestNormalizationEquivalence(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	// U+FB01 (fi ligature) normalizes to "fi" under NFKC.
	encoded, err := h.Hash("ﬁsh and chips")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := h.Verify("fish and chips", encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("NFKC-equivalent inputs must verify against the same hash")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := testConfig()
	h, err := NewHasher(weak)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := h.Hash("some password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	needs, err := h.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if needs {
		t.Fatal("hash at current parameters should not need upgrade")
	}

	stronger := weak
	stronger.Memory = 64 * 1024
	h2, err := NewHasher(stronger)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	needs, err = h2.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade: %v", err)
	}
	if !needs {
		t.Fatal("hash derived with lower memory should need upgrade")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	malformed := []string{
		"",
		"not a phc string",
		"$argon2i$v=19$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAA",
		"$argon2id$v=18$m=8192,t=1,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAA",
		"$argon2id$v=19$m=8192,t=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$AAAAAAAAAAAAAAAAAAAAAA",
	}

	for _, encoded := range malformed {
		if _, err := h.Verify("password", encoded); err == nil {
			t.Errorf("expected error for malformed hash %q", encoded)
		}
	}
}

func TestIsPreviouslyUsed(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	old1, _ := h.Hash("old password one")
	old2, _ := h.Hash("old password two")
	history := []string{old1, old2}

	used, err := h.IsPreviouslyUsed("old password two", history)
	if err != nil {
		t.Fatalf("IsPreviouslyUsed: %v", err)
	}
	if !used {
		t.Fatal("expected reuse detection for password in history")
	}

	used, err = h.IsPreviouslyUsed("brand new password", history)
	if err != nil {
		t.Fatalf("IsPreviouslyUsed: %v", err)
	}
	if used {
		t.Fatal("unexpected reuse flag for fresh password")
	}
}

func TestNewHasherRejectsWeakParameters(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Memory = 1024 },
		func(c *Config) { c.Time = 0 },
		func(c *Config) { c.Parallelism = 0 },
		func(c *Config) { c.SaltLength = 8 },
		func(c *Config) { c.KeyLength = 8 },
	}

	for i, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if _, err := NewHasher(cfg); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
