package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestValidateToken(t *testing.T) {
	secret := "validation-secret"

	valid, _ := NewToken(Claims{UserID: "field_worker", Organisation: "UNICEF", Verified: true}, time.Hour, secret)
	expired, _ := GenerateToken("field_worker", -time.Hour, secret)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "field_worker"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{name: "valid token", token: valid, secret: secret},
		{name: "expired token", token: expired, secret: secret, wantErr: true},
		{name: "wrong secret", token: valid, secret: "wrong-secret", wantErr: true},
		{name: "unsigned token", token: unsigned, secret: secret, wantErr: true},
		{name: "malformed token", token: "invalid.token.format", secret: secret, wantErr: true},
		{name: "empty token", token: "", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(tt.token, tt.secret)
			if tt.wantErr {
				if err == nil {
					t.Error("ValidateToken() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.UserID != "field_worker" || claims.Organisation != "UNICEF" || !claims.Verified {
				t.Errorf("ValidateToken() claims = %+v", claims)
			}
		})
	}
}

func TestGenerateTokenIsUnverified(t *testing.T) {
	secret := "claims-secret"

	token, err := GenerateToken("field_worker", time.Hour, secret)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("GenerateToken() = %q, want a three-part JWT", token)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Verified || claims.Organisation != "" {
		t.Errorf("GenerateToken() claims = %+v", claims)
	}
}

func TestNewTokenTimestamps(t *testing.T) {
	secret := "timestamp-secret"
	expiration := time.Hour

	before := time.Now().Add(-time.Second)
	token, err := NewToken(Claims{UserID: "field_worker"}, expiration, secret)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	after := time.Now().Add(time.Second)

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	if iat := claims.IssuedAt.Time; iat.Before(before) || iat.After(after) {
		t.Errorf("IssuedAt = %v, want within [%v, %v]", iat, before, after)
	}
	if exp := claims.ExpiresAt.Time; exp.Before(before.Add(expiration)) || exp.After(after.Add(expiration)) {
		t.Errorf("ExpiresAt = %v, want about %v after issue", exp, expiration)
	}
	if claims.ID == "" {
		t.Error("NewToken() should set a token id")
	}

	other, _ := NewToken(Claims{UserID: "field_worker"}, expiration, secret)
	if other == token {
		t.Error("two tokens for the same user should differ")
	}
}

func BenchmarkValidateToken(b *testing.B) {
	secret := "benchmark-secret"
	token, _ := GenerateToken("field_worker", 15*time.Minute, secret)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ValidateToken(token, secret); err != nil {
			b.Fatalf("ValidateToken() error = %v", err)
		}
	}
}
