package federation

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

const (
	// Audience of every token exchanged between currency servers.
	Audience = "komunitin-app"

	tokenLifetime = time.Hour
	tokenLeeway   = 5 * time.Minute
	maxTokenAge   = time.Hour
)

// CreateExternalToken signs a token asserting that the caller controls the
// ledger account kp.
func CreateExternalToken(issuer string, kp *settlement.Keypair, now time.Time) (string, error) {
	if !kp.CanSign() {
		return "", errors.New("external token needs a private key")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   kp.Address(),
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(kp.PrivateKey())
}

// ExternalVerifier checks tokens sent by other currency servers. The
// signature must belong to the account named in the subject claim.
type ExternalVerifier struct {
	now func() time.Time
}

func NewExternalVerifier() *ExternalVerifier {
	return &ExternalVerifier{now: time.Now}
}

// Verify returns the ledger account address the token was signed by.
func (v *ExternalVerifier) Verify(tokenString string) (string, error) {
	var unverified jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &unverified); err != nil {
		return "", shared.Unauthorized("malformed external token")
	}
	if unverified.Subject == "" {
		return "", shared.Unauthorized("external token has no subject")
	}
	pub, err := settlement.ParseAddress(unverified.Subject)
	if err != nil {
		return "", shared.Unauthorized("external token subject is not an account key")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	var claims jwt.RegisteredClaims
	_, err = parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return pub, nil
	})
	if err != nil {
		return "", shared.Unauthorized("invalid external token: %v", err)
	}
	if claims.IssuedAt == nil || v.now().Sub(claims.IssuedAt.Time) > maxTokenAge+tokenLeeway {
		return "", shared.Unauthorized("external token is too old")
	}

	return claims.Subject, nil
}

// UserTokens issues and checks the HS256 tokens of local users.
type UserTokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewUserTokens(secret, issuer string) *UserTokens {
	return &UserTokens{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Create signs a token for userID valid for ttl.
func (u *UserTokens) Create(userID string, ttl time.Duration) (string, error) {
	now := u.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": u.issuer,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(u.secret)
}

// Verify returns the user id of a valid token.
func (u *UserTokens) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return u.secret, nil
	}, jwt.WithTimeFunc(u.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", shared.Unauthorized("invalid user token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", shared.Unauthorized("user token has no subject")
	}
	return sub, nil
}
