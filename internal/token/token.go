package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// MaxIDLength bounds the free-form identifiers carried in a token so that
// tracking URLs stay short.
const MaxIDLength = 128

// Claims identify the placed ad a tracking callback refers to.
type Claims struct {
	DecisionID   string
	CampaignID   int
	AdvertiserID int
	CreativeID   int
	Placement    string
	SessionID    string
	ViewerID     string
	IssuedAt     time.Time
}

// payload structure for encoding/decoding
type payload struct {
	DecisionID string `json:"d"`
	CampaignID int    `json:"c"`
	Advertiser int    `json:"a"`
	CreativeID int    `json:"cr"`
	Placement  string `json:"p"`
	SessionID  string `json:"s"`
	ViewerID   string `json:"v,omitempty"`
	TS         int64  `json:"t"`
}

func (c Claims) validate() error {
	if c.DecisionID == "" {
		return fmt.Errorf("decision id required")
	}
	for name, v := range map[string]string{
		"decision id": c.DecisionID,
		"placement":   c.Placement,
		"session id":  c.SessionID,
		"viewer id":   c.ViewerID,
	} {
		if len(v) > MaxIDLength {
			return fmt.Errorf("%s too long: %d chars (max %d)", name, len(v), MaxIDLength)
		}
	}
	return nil
}

// Generate creates a signed token for the given claims. A zero IssuedAt is
// set to the current time.
func Generate(c Claims, secret []byte) (string, error) {
	if err := c.validate(); err != nil {
		return "", fmt.Errorf("claims validation failed: %w", err)
	}
	issued := c.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	pl := payload{
		DecisionID: c.DecisionID,
		CampaignID: c.CampaignID,
		Advertiser: c.AdvertiserID,
		CreativeID: c.CreativeID,
		Placement:  c.Placement,
		SessionID:  c.SessionID,
		ViewerID:   c.ViewerID,
		TS:         issued.Unix(),
	}
	data, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns its claims. A
// non-positive ttl disables the expiry check.
func Verify(token string, secret []byte, ttl time.Duration) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return Claims{}, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Claims{}, ErrInvalid
	}

	var pl payload
	if err := json.Unmarshal(data, &pl); err != nil {
		return Claims{}, ErrInvalid
	}
	issued := time.Unix(pl.TS, 0)
	if ttl > 0 && time.Since(issued) > ttl {
		return Claims{}, ErrExpired
	}
	return Claims{
		DecisionID:   pl.DecisionID,
		CampaignID:   pl.CampaignID,
		AdvertiserID: pl.Advertiser,
		CreativeID:   pl.CreativeID,
		Placement:    pl.Placement,
		SessionID:    pl.SessionID,
		ViewerID:     pl.ViewerID,
		IssuedAt:     issued,
	}, nil
}
