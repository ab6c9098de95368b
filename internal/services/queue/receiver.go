package queue

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
)

const signatureIssuer = "Upstash"

// Receiver verifies delivery signatures from the durable queue. Deliveries
// carry a signed JWT whose body claim is the base64url sha256 of the request
// body and whose subject is the destination URL. During key rotation both
// the current and next signing keys are accepted.
type Receiver struct {
	currentSigningKey string
	nextSigningKey    string
	logger            arbor.ILogger
}

// NewReceiver creates a new delivery verifier
func NewReceiver(config *common.QueueConfig, logger arbor.ILogger) (*Receiver, error) {
	if config.SigningKey == "" {
		return nil, fmt.Errorf("queue signing key is required")
	}
	return &Receiver{
		currentSigningKey: config.SigningKey,
		nextSigningKey:    config.NextSigningKey,
		logger:            logger,
	}, nil
}

// Verify checks the delivery signature against the request body and
// destination URL. Returns interfaces.ErrInvalidSignature on any mismatch.
func (r *Receiver) Verify(signature string, body []byte, url string) error {
	if signature == "" {
		return interfaces.ErrInvalidSignature
	}

	err := r.verifyWithKey(r.currentSigningKey, signature, body, url)
	if err != nil && r.nextSigningKey != "" {
		err = r.verifyWithKey(r.nextSigningKey, signature, body, url)
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("Delivery signature verification failed")
		return interfaces.ErrInvalidSignature
	}
	return nil
}

func (r *Receiver) verifyWithKey(key, signature string, body []byte, url string) error {
	token, err := jwt.Parse(signature, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(key), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(signatureIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("failed to parse signature token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("unexpected claims type")
	}

	if url != "" {
		subject, err := claims.GetSubject()
		if err != nil || subject != url {
			return fmt.Errorf("signature subject does not match destination URL")
		}
	}

	bodyClaim, _ := claims["body"].(string)
	if bodyClaim == "" {
		return fmt.Errorf("signature token missing body claim")
	}

	hash := sha256.Sum256(body)
	expected := base64.RawURLEncoding.EncodeToString(hash[:])
	// Some queue deployments pad the digest; compare the unpadded forms
	padded := base64.URLEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(bodyClaim), []byte(expected)) != 1 &&
		subtle.ConstantTimeCompare([]byte(bodyClaim), []byte(padded)) != 1 {
		return fmt.Errorf("signature body hash does not match request body")
	}

	return nil
}
