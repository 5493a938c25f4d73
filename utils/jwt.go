package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mailflare/config"
	"mailflare/models"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenIssuer = "mailflare"
)

// AuthClaims carries the account identity inside both token kinds.
type AuthClaims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

func signToken(userID uint, ttl time.Duration) (string, error) {
	claims := &AuthClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(config.AppConfig.EncryptionKey))
}

// GenerateJWTToken issues the access/refresh pair for a user.
func GenerateJWTToken(user *models.User) (string, string, error) {
	accessToken, err := signToken(user.ID, accessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := signToken(user.ID, refreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func ParseJWTToken(tokenString string) (*AuthClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuthClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.EncryptionKey), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AuthClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RefreshTokens exchanges a still-valid refresh token for a fresh pair.
// Expiry is enforced by ParseJWTToken; a deactivated account cannot
// refresh its way back in.
func RefreshTokens(refreshToken string) (string, string, error) {
	claims, err := ParseJWTToken(refreshToken)
	if err != nil {
		return "", "", err
	}

	var user models.User
	if err := config.DB.First(&user, claims.UserID).Error; err != nil {
		return "", "", errors.New("user not found")
	}
	if !user.IsActive {
		return "", "", errors.New("account is not active")
	}

	return GenerateJWTToken(&user)
}
