package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/memohai/crossplay/internal/backend"
)

const ticketTTL = time.Hour

// ticketClaims is the payload of a simulated platform session ticket.
type ticketClaims struct {
	Platform    string `json:"plt"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (w *World) issueTicket(key externalKey, name string) (backend.Credential, error) {
	now := w.opts.Now().UTC()
	claims := ticketClaims{
		Platform:    string(key.platform),
		DisplayName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.nativeID,
			Issuer:    "sim-" + string(key.platform),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ticketTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(w.opts.TicketSecret))
	if err != nil {
		return backend.Credential{}, fmt.Errorf("sign ticket: %w", err)
	}
	return backend.Credential{
		Platform: key.platform,
		UserID:   key.nativeID,
		Ticket:   signed,
		IssuedAt: now,
	}, nil
}

// verifyTicket checks the credential's signature and that it belongs to the
// platform user it claims.
func (w *World) verifyTicket(cred backend.Credential) (externalKey, string, error) {
	var claims ticketClaims
	_, err := jwt.ParseWithClaims(cred.Ticket, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(w.opts.TicketSecret), nil
	}, jwt.WithTimeFunc(w.opts.Now))
	if err != nil {
		return externalKey{}, "", err
	}
	if claims.Subject != cred.UserID || claims.Platform != string(cred.Platform) {
		return externalKey{}, "", errors.New("ticket subject mismatch")
	}
	return externalKey{platform: cred.Platform, nativeID: cred.UserID}, claims.DisplayName, nil
}
