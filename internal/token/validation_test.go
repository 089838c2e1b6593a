package token

import (
	"strings"
	"testing"
)

func TestGenerateValidatesClaims(t *testing.T) {
	secret := []byte("test-secret-key")

	t.Run("Valid claims pass validation", func(t *testing.T) {
		if _, err := Generate(testClaims(), secret); err != nil {
			t.Errorf("Expected valid claims to pass, got error: %v", err)
		}
	})

	t.Run("Missing decision id rejected", func(t *testing.T) {
		c := testClaims()
		c.DecisionID = ""
		_, err := Generate(c, secret)
		if err == nil || !strings.Contains(err.Error(), "decision id required") {
			t.Errorf("Expected 'decision id required' error, got: %v", err)
		}
	})

	t.Run("Session id too long rejected", func(t *testing.T) {
		c := testClaims()
		c.SessionID = strings.Repeat("s", MaxIDLength+1)
		_, err := Generate(c, secret)
		if err == nil || !strings.Contains(err.Error(), "session id too long") {
			t.Errorf("Expected 'session id too long' error, got: %v", err)
		}
	})

	t.Run("Anonymous viewer allowed", func(t *testing.T) {
		c := testClaims()
		c.ViewerID = ""
		tok, err := Generate(c, secret)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		got, err := Verify(tok, secret, 0)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if got.ViewerID != "" {
			t.Errorf("expected empty viewer id, got %q", got.ViewerID)
		}
	})
}
