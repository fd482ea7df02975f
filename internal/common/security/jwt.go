package security

import (
	"errors"
	"time"

	"duel_arena/internal/platform/config"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

var TokenAuth *jwtauth.JWTAuth

func InitJWT() {
	TokenAuth = jwtauth.New("HS256", config.AppConfig.JWTKey, nil)
}

func GenerateToken(participantID, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"participant_id": participantID,
		"role":           role,
		"exp":            now.Add(config.AppConfig.JWTExp).Unix(),
		"iat":            now.Unix(),
	}
	_, tokenString, err := TokenAuth.Encode(claims)
	return tokenString, err
}

func GetParticipantIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["participant_id"].(string)
	if !ok || id == "" {
		return "", errors.New("participant_id claim is missing or not a string")
	}
	return id, nil
}

func GetRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
