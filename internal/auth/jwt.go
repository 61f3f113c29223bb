package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "casino-ledger"

// Realm identifies the JWT authentication realm.
type Realm string

const (
	// RealmPlayer tokens carry the account id as subject.
	RealmPlayer Realm = "player"
	// RealmAdmin tokens carry the operator id as subject and a role.
	RealmAdmin Realm = "admin"
)

// Claims holds the custom JWT claims for both realms.
type Claims struct {
	jwt.RegisteredClaims
	Realm Realm  `json:"realm"`
	Role  string `json:"role,omitempty"` // admin realm: viewer, admin, superadmin
}

// SubjectID parses the subject as a UUID.
func (c *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a uuid: %w", err)
	}
	return id, nil
}

// JWTManager handles token generation and validation. Tokens are issued by
// the operator's identity service; GenerateToken exists for tooling and tests.
type JWTManager struct {
	secret       []byte
	playerExpiry time.Duration
	adminExpiry  time.Duration
}

// NewJWTManager creates a JWT manager with realm-specific expiry durations.
func NewJWTManager(secret string, playerExpiry, adminExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:       []byte(secret),
		playerExpiry: playerExpiry,
		adminExpiry:  adminExpiry,
	}
}

// GenerateToken creates a signed JWT for the given realm and subject.
func (m *JWTManager) GenerateToken(realm Realm, subjectID uuid.UUID, role string) (string, error) {
	var expiry time.Duration
	switch realm {
	case RealmPlayer:
		expiry = m.playerExpiry
	case RealmAdmin:
		if !IsAdminRole(role) {
			return "", fmt.Errorf("unknown admin role: %q", role)
		}
		expiry = m.adminExpiry
	default:
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			ID:        uuid.New().String(),
		},
		Realm: realm,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to the expected realm.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expectedRealm Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Realm != expectedRealm {
		return nil, fmt.Errorf("expected realm %s, got %s", expectedRealm, claims.Realm)
	}
	if expectedRealm == RealmAdmin && !IsAdminRole(claims.Role) {
		return nil, fmt.Errorf("unknown admin role: %q", claims.Role)
	}
	return claims, nil
}
