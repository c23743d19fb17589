package utils

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yeremiapane/restaurant-sync/models"
)

var JWTSecret []byte

const tokenTTL = 12 * time.Hour

func init() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// secret default untuk development
		secret = "TestSecretKeyAUTH1945"
	}
	JWTSecret = []byte(secret)
}

// SetJWTSecret overrides the environment secret once configuration is loaded.
func SetJWTSecret(secret string) {
	if secret != "" {
		JWTSecret = []byte(secret)
	}
}

type CustomClaims struct {
	UserID  uint   `json:"user_id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	SubRole string `json:"sub_role"`
	jwt.RegisteredClaims
}

func (c *CustomClaims) Actor() models.Actor {
	return models.Actor{ID: c.UserID, Name: c.Name, Role: c.Role, SubRole: c.SubRole}
}

func GenerateToken(actor models.Actor) (string, error) {
	claims := &CustomClaims{
		UserID:  actor.ID,
		Name:    actor.Name,
		Role:    actor.Role,
		SubRole: actor.SubRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "restaurant-sync",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(JWTSecret)
	if err != nil {
		ErrorLogger.Printf("Error generating token: %v", err)
		return "", err
	}
	return tokenString, nil
}

func ParseToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return JWTSecret, nil
	})

	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// PeekActor reads the actor from a token without verifying its signature.
// Clients use it to learn who they are logged in as; the store still
// verifies every request.
func PeekActor(tokenString string) (models.Actor, error) {
	claims := &CustomClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return models.Actor{}, err
	}
	if claims.UserID == 0 {
		return models.Actor{}, errors.New("token carries no user")
	}
	return claims.Actor(), nil
}
