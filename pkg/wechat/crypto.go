package wechat

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

const blockSize = 32

// Crypto implements the Official Account message envelope: SHA1 signatures
// over sorted parameters and AES-256-CBC encryption of the XML payload.
// With an empty EncodingAESKey the account runs in plaintext mode and
// Encrypt/Decrypt pass data through untouched.
type Crypto struct {
	token  string
	appID  string
	aesKey []byte
}

func NewCrypto(token, encodingAESKey, appID string) (*Crypto, error) {
	c := &Crypto{token: token, appID: appID}

	if encodingAESKey != "" {
		key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
		if err != nil {
			return nil, fmt.Errorf("failed to decode AES key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid AES key length: %d", len(key))
		}
		c.aesKey = key
	}

	return c, nil
}

// EncryptionEnabled reports whether the account is configured for the
// encrypted envelope.
func (c *Crypto) EncryptionEnabled() bool {
	return c.aesKey != nil
}

// Signature computes the SHA1 hex digest over the lexicographically sorted
// concatenation of parts. WeChat uses this construction for both the URL
// handshake (token, timestamp, nonce) and the message envelope (those three
// plus the ciphertext).
func Signature(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	hash := sha1.Sum([]byte(strings.Join(sorted, "")))
	return fmt.Sprintf("%x", hash)
}

// VerifyURLSignature checks the GET handshake signature.
func (c *Crypto) VerifyURLSignature(signature, timestamp, nonce string) bool {
	return signature != "" && Signature(c.token, timestamp, nonce) == signature
}

// VerifyMsgSignature checks the POST envelope signature over the ciphertext.
func (c *Crypto) VerifyMsgSignature(signature, timestamp, nonce, encrypted string) bool {
	return signature != "" && Signature(c.token, timestamp, nonce, encrypted) == signature
}

// Encrypt produces the base64 ciphertext of plaintext per the documented
// scheme: random(16) | msg_len(4, big endian) | msg | appid, PKCS#7 padded,
// AES-256-CBC with IV = key[:16].
func (c *Crypto) Encrypt(plaintext string) (string, error) {
	if c.aesKey == nil {
		return plaintext, nil
	}

	random, err := randomString(16)
	if err != nil {
		return "", err
	}

	textBytes := []byte(plaintext)
	msgLen := make([]byte, 4)
	binary.BigEndian.PutUint32(msgLen, uint32(len(textBytes)))

	var buf bytes.Buffer
	buf.WriteString(random)
	buf.Write(msgLen)
	buf.Write(textBytes)
	buf.WriteString(c.appID)

	plain := pkcs7Pad(buf.Bytes(), blockSize)

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	ciphertext := make([]byte, len(plain))
	mode := cipher.NewCBCEncrypter(block, c.aesKey[:aes.BlockSize])
	mode.CryptBlocks(ciphertext, plain)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt and validates the embedded AppID.
func (c *Crypto) Decrypt(encrypted string) (string, error) {
	if c.aesKey == nil {
		return encrypted, nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext size %d not a multiple of block size", len(data))
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plain := make([]byte, len(data))
	mode := cipher.NewCBCDecrypter(block, c.aesKey[:aes.BlockSize])
	mode.CryptBlocks(plain, data)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", fmt.Errorf("failed to unpad: %w", err)
	}

	if len(plain) < 20 {
		return "", fmt.Errorf("decrypted payload too short: %d bytes", len(plain))
	}

	msgLen := binary.BigEndian.Uint32(plain[16:20])
	if int(20+msgLen) > len(plain) {
		return "", fmt.Errorf("declared message length %d exceeds payload", msgLen)
	}

	text := plain[20 : 20+msgLen]
	appID := string(plain[20+msgLen:])
	if appID != c.appID {
		return "", fmt.Errorf("appid mismatch in decrypted payload")
	}

	return string(text), nil
}

// encryptedEnvelope is the XML wire format WeChat wraps around ciphertext,
// both inbound (Encrypt only) and outbound (all four fields).
type encryptedEnvelope struct {
	XMLName      xml.Name `xml:"xml"`
	Encrypt      cdata    `xml:"Encrypt"`
	MsgSignature cdata    `xml:"MsgSignature,omitempty"`
	TimeStamp    string   `xml:"TimeStamp,omitempty"`
	Nonce        cdata    `xml:"Nonce,omitempty"`
}

// DecryptEnvelope extracts <Encrypt> from an inbound POST body, verifies the
// envelope signature, and returns the decrypted inner XML. In plaintext mode
// the body is returned as-is.
func (c *Crypto) DecryptEnvelope(body []byte, msgSignature, timestamp, nonce string) (string, error) {
	if c.aesKey == nil {
		return string(body), nil
	}

	var env encryptedEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("failed to parse encrypted envelope: %w", err)
	}
	if env.Encrypt.Value == "" {
		return "", fmt.Errorf("encrypted envelope missing Encrypt element")
	}

	if !c.VerifyMsgSignature(msgSignature, timestamp, nonce, env.Encrypt.Value) {
		return "", fmt.Errorf("envelope signature mismatch")
	}

	return c.Decrypt(env.Encrypt.Value)
}

// EncryptEnvelope encrypts a reply XML and wraps it in the response
// envelope, signing the ciphertext with the supplied timestamp and nonce.
// In plaintext mode the reply passes through unchanged.
func (c *Crypto) EncryptEnvelope(replyXML, timestamp, nonce string) (string, error) {
	if c.aesKey == nil {
		return replyXML, nil
	}

	encrypted, err := c.Encrypt(replyXML)
	if err != nil {
		return "", err
	}

	env := encryptedEnvelope{
		Encrypt:      cdata{encrypted},
		MsgSignature: cdata{Signature(c.token, timestamp, nonce, encrypted)},
		TimeStamp:    timestamp,
		Nonce:        cdata{nonce},
	}

	out, err := xml.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(out), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	padding := size - (len(data) % size)
	if padding == 0 {
		padding = size
	}
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	return data[:len(data)-padding], nil
}

func randomString(n int) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random: %w", err)
		}
		b[i] = letters[idx.Int64()]
	}
	return string(b), nil
}
