package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/auraflow/auraflow/pkg/model"
)

var ErrInvalidToken = errors.New("invalid token")

// StaffClaims carry the identity the API layer hands to the core: who is
// acting, in which clinic, and with what role. There is no permission policy
// here; role gating lives in the transition table.
type StaffClaims struct {
	jwt.RegisteredClaims
	StaffID  string          `json:"staff_id"`
	ClinicID string          `json:"clinic_id"`
	Role     model.StaffRole `json:"role"`
}

type StaffTokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewStaffTokenManager(signingKey []byte, ttl time.Duration) *StaffTokenManager {
	return &StaffTokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *StaffTokenManager) Generate(staffID, clinicID string, role model.StaffRole) (string, error) {
	claims := StaffClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   staffID,
			Issuer:    "auraflow",
		},
		StaffID:  staffID,
		ClinicID: clinicID,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *StaffTokenManager) Validate(tokenString string) (*StaffClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*StaffClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
