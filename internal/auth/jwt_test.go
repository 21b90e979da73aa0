package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWT_SignVerify(t *testing.T) {
	j := JWT{Secret: []byte("s3cret"), TokenTTL: time.Hour, Issuer: "harvest"}
	tok, exp, err := j.Sign("ops", "operator")
	if err != nil {
		t.Fatalf("sign err=%v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expires_at=%v in the past", exp)
	}
	c, err := j.Verify(tok)
	if err != nil {
		t.Fatalf("verify err=%v", err)
	}
	if c.Subject != "ops" || c.Role != "operator" {
		t.Fatalf("claims=%+v", c)
	}
}

func TestJWT_RejectsForeignAndExpired(t *testing.T) {
	j := JWT{Secret: []byte("s3cret"), TokenTTL: time.Minute, Issuer: "harvest"}
	other := JWT{Secret: []byte("other"), TokenTTL: time.Minute, Issuer: "harvest"}
	tok, _, _ := other.Sign("ops", "operator")
	if _, err := j.Verify(tok); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}

	past := JWT{Secret: j.Secret, TokenTTL: time.Minute, Issuer: "harvest", Now: func() time.Time { return time.Now().Add(-time.Hour) }}
	old, _, _ := past.Sign("ops", "operator")
	if _, err := j.Verify(old); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestJWT_EmptySecret(t *testing.T) {
	var j JWT
	if _, _, err := j.Sign("ops", "operator"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("sign err=%v want ErrNoSecret", err)
	}
	if _, err := j.Verify("a.b.c"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("verify err=%v want ErrNoSecret", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("token=%q want=abc", got)
	}
	if got := BearerToken("bearer  abc "); got != "abc" {
		t.Fatalf("token=%q want=abc", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("token=%q want empty", got)
	}
}
