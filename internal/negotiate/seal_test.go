package negotiate

import "testing"

func TestSealUnsealRoundTripViaDerivedKey(t *testing.T) {
	plaintext := []byte(`{"sdp":"v=0..."}`)
	env, key, err := Seal("session-1", "correct horse battery staple", "handshake-1", nil, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("len(key) = %d, want 32", len(key))
	}

	got, gotKey, err := Unseal("session-1", "correct horse battery staple", "handshake-1", nil, env)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("Unseal() = %q, want %q", got, plaintext)
	}
	if string(gotKey) != string(key) {
		t.Fatal("Unseal should derive the same key Seal used")
	}
}

func TestUnsealWithWrongPassphraseFails(t *testing.T) {
	env, _, err := Seal("session-1", "right-passphrase", "handshake-1", nil, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Unseal("session-1", "wrong-passphrase", "handshake-1", nil, env); err == nil {
		t.Fatal("expected Unseal to fail with the wrong passphrase")
	}
}

func TestUnsealWithWrongSessionIDFails(t *testing.T) {
	env, _, err := Seal("session-1", "pass", "handshake-1", nil, []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Unseal("session-2", "pass", "handshake-1", nil, env); err == nil {
		t.Fatal("expected Unseal to fail with a different sessionID (different HKDF salt)")
	}
}

func TestSealWithExplicitHandshakeKeySkipsDerivation(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	env, usedKey, err := Seal("ignored", "ignored", "ignored", key, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if string(usedKey) != string(key) {
		t.Fatal("Seal should return the explicit handshake key unchanged")
	}
	got, _, err := Unseal("ignored", "ignored", "ignored", key, env)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestUnsealRejectsUnsupportedVersion(t *testing.T) {
	env, _, err := Seal("s", "p", "h", nil, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	env.Version = 99
	if _, _, err := Unseal("s", "p", "h", nil, env); err == nil {
		t.Fatal("expected an error for an unsupported envelope version")
	}
}

func TestUnsealRejectsTamperedCiphertext(t *testing.T) {
	env, _, err := Seal("s", "p", "h", nil, []byte("authentic"))
	if err != nil {
		t.Fatal(err)
	}
	if env.Ciphertext == "" {
		t.Fatal("expected non-empty ciphertext")
	}
	// Flip the envelope's first base64 character to corrupt the ciphertext.
	runes := []rune(env.Ciphertext)
	if runes[0] == 'A' {
		runes[0] = 'B'
	} else {
		runes[0] = 'A'
	}
	env.Ciphertext = string(runes)
	if _, _, err := Unseal("s", "p", "h", nil, env); err == nil {
		t.Fatal("expected AEAD authentication failure on tampered ciphertext")
	}
}
