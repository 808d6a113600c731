package payment

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/suPer8Hu/ai-broker/internal/ledger"
)

const Currency = "XTR"

var ErrInvalidInvoice = errors.New("payment: invalid invoice")

// InvoiceClaims is the signed purchase intent handed to the payment gateway
// and echoed back on success.
type InvoiceClaims struct {
	UserID   uint64             `json:"uid"`
	Kind     ledger.PaymentKind `json:"kind"`
	Ref      string             `json:"ref"`
	Price    int64              `json:"price"`
	Currency string             `json:"cur"`
	jwt.RegisteredClaims
}

type Invoice struct {
	Title    string `json:"title"`
	Payload  string `json:"payload"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

func signInvoice(secret []byte, c InvoiceClaims, ttl time.Duration, now time.Time) (string, error) {
	c.Currency = Currency
	c.Subject = strconv.FormatUint(c.UserID, 10)
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(secret)
}

// parseInvoice checks the signature only. A payment the gateway already took
// must be honoured even if the intent has since expired.
func parseInvoice(secret []byte, raw string) (*InvoiceClaims, error) {
	var c InvoiceClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	if c.Currency != Currency || c.Price <= 0 || c.Ref == "" {
		return nil, ErrInvalidInvoice
	}
	switch c.Kind {
	case ledger.PaymentPlan, ledger.PaymentDraft:
	default:
		return nil, ErrInvalidInvoice
	}
	return &c, nil
}
