package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/journeys/pkg/response"
)

const userIDKey = "user_id"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrNoSubject    = errors.New("token has no subject")
)

// IssueToken 签发 HS256 令牌，subject 为用户 ID
func IssueToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken 校验签名、签发方与有效期，返回 subject
func ParseToken(secret, issuer, tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}

// Auth requires a valid bearer token and stores its subject as the current user.
// Routes listed in queryTokenPaths (EventSource cannot set headers) also accept
// ?access_token=; everywhere else the query parameter is ignored.
func Auth(secret, issuer string, queryTokenPaths ...string) gin.HandlerFunc {
	queryOK := make(map[string]struct{}, len(queryTokenPaths))
	for _, p := range queryTokenPaths {
		queryOK[p] = struct{}{}
	}
	return func(c *gin.Context) {
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || token == "" {
			token = ""
			if _, ok := queryOK[c.FullPath()]; ok {
				token = c.Query("access_token")
			}
		}
		if token == "" {
			response.Unauthorized(c, ErrMissingToken.Error())
			c.Abort()
			return
		}
		userID, err := ParseToken(secret, issuer, token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// CurrentUser 由 Auth 写入；未经过 Auth 时为空
func CurrentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
