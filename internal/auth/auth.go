package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
	"github.com/sf7293/pipeline-board/internal/ratelimit"
)

const userKey = "auth.user"

// Verifier checks HS256 bearer tokens. Tokens carry the user id in the userId claim
// (number or string), falling back to sub.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:    time.Now,
	}
}

func (v *Verifier) Verify(token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, fmt.Errorf("%w: missing token", errval.ErrAuth)
	}

	parsed, err := v.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errval.ErrAuth, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, fmt.Errorf("%w: invalid claims", errval.ErrAuth)
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.User{}, fmt.Errorf("%w: token expired", errval.ErrAuth)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return domain.User{}, fmt.Errorf("%w: invalid issuer", errval.ErrAuth)
	}

	userID := claimString(claims["userId"])
	if userID == "" {
		userID = claimString(claims["sub"])
	}
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: missing user id", errval.ErrAuth)
	}

	userName := claimString(claims["name"])
	if userName == "" {
		userName = claimString(claims["email"])
	}

	return domain.User{ID: userID, Name: userName}, nil
}

// Issue signs a token for user. The login flow lives elsewhere; this backs tests
// and local tooling.
func (v *Verifier) Issue(user domain.User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"userId": user.ID,
		"name":   user.Name,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// BearerToken reads the token from the Authorization header, or from the token query
// parameter for clients such as EventSource that cannot set headers.
func BearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// Middleware rejects requests without a valid token. Failed verifications count
// against limiter per client IP, and callers over the limit get 429 instead of 401.
func Middleware(verifier *Verifier, limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.Verify(BearerToken(c))
		if err != nil {
			if limiter != nil && !limiter.Allow(c.Request.Context(), c.ClientIP()) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": errval.ErrRateLimited.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errval.ErrAuth.Error()})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// UserFrom returns the user stored by Middleware.
func UserFrom(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(userKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}
