package service

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"cargorapido/internal/config"
	"cargorapido/internal/domain"
)

// OTPVerifier issues and checks the numeric handoff codes.
type OTPVerifier struct {
	length int
}

// NewOTPVerifier creates a verifier producing codes of the given length.
func NewOTPVerifier(length int) (*OTPVerifier, error) {
	if length < config.MinOTPLength {
		return nil, fmt.Errorf("otp length %d below minimum %d", length, config.MinOTPLength)
	}
	return &OTPVerifier{length: length}, nil
}

// GeneratePair returns fresh, independently drawn pickup and drop codes.
func (v *OTPVerifier) GeneratePair() (domain.OTPPair, error) {
	pickup, err := v.generate()
	if err != nil {
		return domain.OTPPair{}, err
	}
	drop, err := v.generate()
	if err != nil {
		return domain.OTPPair{}, err
	}
	return domain.OTPPair{
		Pickup: domain.OTPCode{Code: pickup},
		Drop:   domain.OTPCode{Code: drop},
	}, nil
}

// Verify reports whether supplied exactly matches stored. A consumed code never verifies.
func (v *OTPVerifier) Verify(stored, supplied string, consumed bool) bool {
	if consumed || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// Consume marks the code used at the given time. Consuming twice keeps the first time.
func (v *OTPVerifier) Consume(code *domain.OTPCode, at time.Time) {
	if code.Consumed() {
		return
	}
	t := at
	code.ConsumedAt = &t
}

func (v *OTPVerifier) generate() (string, error) {
	digits := make([]byte, v.length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
