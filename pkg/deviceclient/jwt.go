package deviceclient

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTokenTTL is how long a device JWT is valid. The MQTT bridge rejects
// tokens valid for more than a day.
const DefaultTokenTTL = 20 * time.Minute

// CreateJWT signs the token a device presents as its MQTT password: RS256,
// audience set to the project, issued now and expiring after ttl.
func CreateJWT(projectID string, privateKeyPEM []byte, now time.Time, ttl time.Duration) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parse device private key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := jwt.StandardClaims{
		Audience:  projectID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign device jwt: %w", err)
	}
	return signed, nil
}
