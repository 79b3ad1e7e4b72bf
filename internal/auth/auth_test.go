package auth

import (
	"errors"
	"testing"
)

func TestGenerateAndValidateToken(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if token.Token == "" {
		t.Fatal("GenerateToken returned an empty token")
	}

	claims, err := service.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("ValidateToken error: %v", err)
	}
	if claims.ClientID != TestAPIKey {
		t.Errorf("client id = %q, want %q", claims.ClientID, TestAPIKey)
	}
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	service := NewService("test-secret")
	service.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	_, err := service.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: "wrong-secret",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials(TestAPIKey, TestAPISecret)

	token, err := issuer.GenerateToken(Credentials{
		APIKey:    TestAPIKey,
		APISecret: TestAPISecret,
	})
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	verifier := NewService("secret-b")
	if _, err := verifier.ValidateToken(token.Token); err == nil {
		t.Error("ValidateToken accepted a token signed with a different secret")
	}
}
