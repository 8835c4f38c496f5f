package internal

import (
	"bytes"
	"testing"
)

func FuzzDecodeRefreshToken(f *testing.F) {
	sid, err := NewSessionID()
	if err != nil {
		f.Fatalf("NewSessionID failed: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		f.Fatalf("NewRefreshSecret failed: %v", err)
	}
	valid, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		f.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not-base64!!")
	f.Add(valid[:len(valid)-4])

	f.Fuzz(func(t *testing.T, token string) {
		gotSID, gotSecret, err := DecodeRefreshToken(token)
		if err != nil {
			if gotSID != "" {
				t.Fatal("session id leaked on decode failure")
			}
			return
		}
		// Successful decodes must round-trip to the same token.
		reencoded, encErr := EncodeRefreshToken(gotSID, gotSecret)
		if encErr != nil {
			t.Fatalf("re-encode of decoded token failed: %v", encErr)
		}
		if reencoded != token {
			t.Fatalf("round trip mismatch: %q != %q", reencoded, token)
		}
	})
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}

	token, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	gotSID, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatalf("DecodeRefreshToken failed: %v", err)
	}
	if gotSID != sid.String() {
		t.Fatalf("session id mismatch: %q != %q", gotSID, sid.String())
	}
	if !bytes.Equal(gotSecret[:], secret[:]) {
		t.Fatal("secret mismatch after round trip")
	}
	if HashRefreshSecret(gotSecret) != HashRefreshSecret(secret) {
		t.Fatal("hash mismatch after round trip")
	}
}
