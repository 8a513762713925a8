package wechat

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/xml"
	"strings"
	"testing"
)

func testCrypto(t *testing.T) *Crypto {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	encoded := strings.TrimSuffix(base64.StdEncoding.EncodeToString(key), "=")

	c, err := NewCrypto("test-token", encoded, "wx1234567890")
	if err != nil {
		t.Fatalf("NewCrypto failed: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCrypto(t)

	lengths := []int{0, 1, 31, 32, 33, 1000}
	for _, n := range lengths {
		plaintext := strings.Repeat("x", n)
		encrypted, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(len=%d) failed: %v", n, err)
		}
		decrypted, err := c.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt(len=%d) failed: %v", n, err)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch at len=%d: got %d bytes", n, len(decrypted))
		}
	}
}

func TestDecryptRejectsWrongAppID(t *testing.T) {
	c := testCrypto(t)

	encrypted, err := c.Encrypt("hello")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	other := *c
	other.appID = "wx0000000000"
	if _, err := other.Decrypt(encrypted); err == nil {
		t.Fatal("expected appid mismatch error")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c := testCrypto(t)

	if _, err := c.Decrypt("not base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for non-block-aligned ciphertext")
	}
}

func TestNewCryptoRejectsBadKey(t *testing.T) {
	if _, err := NewCrypto("token", "tooshort", "appid"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestNewCryptoPlaintextMode(t *testing.T) {
	c, err := NewCrypto("token", "", "appid")
	if err != nil {
		t.Fatalf("NewCrypto failed: %v", err)
	}
	if c.EncryptionEnabled() {
		t.Fatal("expected plaintext mode")
	}
	out, err := c.Encrypt("<xml>pass</xml>")
	if err != nil || out != "<xml>pass</xml>" {
		t.Fatalf("plaintext Encrypt changed payload: %q %v", out, err)
	}
}

func TestSignatureVerification(t *testing.T) {
	c := testCrypto(t)

	sig := Signature("test-token", "1700000000", "nonce123")
	if !c.VerifyURLSignature(sig, "1700000000", "nonce123") {
		t.Fatal("valid URL signature rejected")
	}
	if c.VerifyURLSignature(sig, "1700000001", "nonce123") {
		t.Fatal("signature accepted with altered timestamp")
	}
	if c.VerifyURLSignature("", "1700000000", "nonce123") {
		t.Fatal("empty signature accepted")
	}
}

func TestSignatureOrderIndependent(t *testing.T) {
	a := Signature("b", "a", "c")
	b := Signature("c", "b", "a")
	if a != b {
		t.Fatal("signature should not depend on argument order")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	c := testCrypto(t)

	reply := "<xml><Content><![CDATA[你好]]></Content></xml>"
	env, err := c.EncryptEnvelope(reply, "1700000000", "nonce456")
	if err != nil {
		t.Fatalf("EncryptEnvelope failed: %v", err)
	}

	// pull the signature fields back out the way a receiver would
	var parsed struct {
		Encrypt      string `xml:"Encrypt"`
		MsgSignature string `xml:"MsgSignature"`
		TimeStamp    string `xml:"TimeStamp"`
		Nonce        string `xml:"Nonce"`
	}
	if err := xml.Unmarshal([]byte(env), &parsed); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}

	decrypted, err := c.DecryptEnvelope([]byte(env), parsed.MsgSignature, parsed.TimeStamp, parsed.Nonce)
	if err != nil {
		t.Fatalf("DecryptEnvelope failed: %v", err)
	}
	if decrypted != reply {
		t.Fatalf("envelope round trip mismatch: %q", decrypted)
	}

	if _, err := c.DecryptEnvelope([]byte(env), "bogus", parsed.TimeStamp, parsed.Nonce); err == nil {
		t.Fatal("expected signature mismatch error")
	}
}
