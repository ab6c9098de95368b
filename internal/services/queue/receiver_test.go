package queue

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
)

const (
	testSigningKey = "sig_current_key"
	testNextKey    = "sig_next_key"
	testWebhookURL = "https://app.example.com/api/queue/webhook"
)

func newTestReceiver(t *testing.T) *Receiver {
	t.Helper()
	receiver, err := NewReceiver(&common.QueueConfig{
		SigningKey:     testSigningKey,
		NextSigningKey: testNextKey,
	}, arbor.NewLogger())
	require.NoError(t, err)
	return receiver
}

// signDelivery builds the signature token the queue attaches to deliveries
func signDelivery(t *testing.T, key string, body []byte, url string, mutate func(claims jwt.MapClaims)) string {
	t.Helper()

	hash := sha256.Sum256(body)
	claims := jwt.MapClaims{
		"iss":  "Upstash",
		"sub":  url,
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
		"iat":  time.Now().Unix(),
		"body": base64.RawURLEncoding.EncodeToString(hash[:]),
	}
	if mutate != nil {
		mutate(claims)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestReceiver_VerifyValidSignature(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{"taskId":"task_1","prompt":"hello"}`)

	signature := signDelivery(t, testSigningKey, body, testWebhookURL, nil)
	assert.NoError(t, receiver.Verify(signature, body, testWebhookURL))
}

func TestReceiver_VerifyWithRotatedKey(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{"taskId":"task_1"}`)

	signature := signDelivery(t, testNextKey, body, testWebhookURL, nil)
	assert.NoError(t, receiver.Verify(signature, body, testWebhookURL))
}

func TestReceiver_VerifyPaddedBodyDigest(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{"taskId":"task_1"}`)

	signature := signDelivery(t, testSigningKey, body, testWebhookURL, func(claims jwt.MapClaims) {
		hash := sha256.Sum256(body)
		claims["body"] = base64.URLEncoding.EncodeToString(hash[:])
	})
	assert.NoError(t, receiver.Verify(signature, body, testWebhookURL))
}

func TestReceiver_RejectsTamperedBody(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{"taskId":"task_1"}`)

	signature := signDelivery(t, testSigningKey, body, testWebhookURL, nil)
	err := receiver.Verify(signature, []byte(`{"taskId":"task_EVIL"}`), testWebhookURL)
	assert.ErrorIs(t, err, interfaces.ErrInvalidSignature)
}

func TestReceiver_RejectsUnknownKey(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{}`)

	signature := signDelivery(t, "some_other_key", body, testWebhookURL, nil)
	assert.ErrorIs(t, receiver.Verify(signature, body, testWebhookURL), interfaces.ErrInvalidSignature)
}

func TestReceiver_RejectsWrongDestination(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{}`)

	signature := signDelivery(t, testSigningKey, body, "https://evil.example.com/hook", nil)
	assert.ErrorIs(t, receiver.Verify(signature, body, testWebhookURL), interfaces.ErrInvalidSignature)
}

func TestReceiver_RejectsExpiredToken(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{}`)

	signature := signDelivery(t, testSigningKey, body, testWebhookURL, func(claims jwt.MapClaims) {
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
	})
	assert.ErrorIs(t, receiver.Verify(signature, body, testWebhookURL), interfaces.ErrInvalidSignature)
}

func TestReceiver_RejectsWrongIssuer(t *testing.T) {
	receiver := newTestReceiver(t)
	body := []byte(`{}`)

	signature := signDelivery(t, testSigningKey, body, testWebhookURL, func(claims jwt.MapClaims) {
		claims["iss"] = "NotUpstash"
	})
	assert.ErrorIs(t, receiver.Verify(signature, body, testWebhookURL), interfaces.ErrInvalidSignature)
}

func TestReceiver_RejectsEmptySignature(t *testing.T) {
	receiver := newTestReceiver(t)
	assert.ErrorIs(t, receiver.Verify("", []byte(`{}`), testWebhookURL), interfaces.ErrInvalidSignature)
}

func TestNewReceiver_RequiresSigningKey(t *testing.T) {
	_, err := NewReceiver(&common.QueueConfig{}, arbor.NewLogger())
	assert.Error(t, err)
}
