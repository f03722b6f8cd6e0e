package gateway

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"teams/t1/refs/face.png", "teams/t1/refs/face.png", false},
		{"/teams/t1/refs/face.png", "teams/t1/refs/face.png", false},
		{"./teams/t1/a.png", "teams/t1/a.png", false},
		{"teams\\t1\\a.png", "teams/t1/a.png", false},
		{"teams/t1/../t2/a.png", "teams/t2/a.png", false},
		{"../etc/passwd", "", true},
		{"..", "", true},
		{"", "", true},
		{"   ", "", true},
		{"https://cdn.example.com/teams/t1/a.png", "teams/t1/a.png", false},
	}
	for _, tc := range cases {
		got, err := NormalizePath(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePath(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePath(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner("secret", "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	signed, err := signer.SignPath("teams/t1/target.png", 600*time.Second)
	if err != nil {
		t.Fatalf("sign path: %v", err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if !strings.HasPrefix(signed, "http://localhost:8080/files/teams/t1/target.png?") {
		t.Fatalf("unexpected signed url %q", signed)
	}
	key := strings.TrimPrefix(u.Path, "/files/")
	if err := signer.Verify(key, u.Query()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	signer, _ := NewSigner("secret", "http://h/files")
	signed, _ := signer.SignPath("teams/t1/a.png", time.Minute)
	u, _ := url.Parse(signed)
	if err := signer.Verify("teams/t2/b.png", u.Query()); err != ErrBadSignature {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer, _ := NewSigner("secret", "http://h/files")
	base := time.Now()
	signer.now = func() time.Time { return base }
	signed, _ := signer.SignPath("teams/t1/a.png", time.Second)
	u, _ := url.Parse(signed)
	signer.now = func() time.Time { return base.Add(2 * time.Second) }
	if err := signer.Verify("teams/t1/a.png", u.Query()); err != ErrExpired {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestSignPathRejectsTraversal(t *testing.T) {
	signer, _ := NewSigner("secret", "http://h/files")
	if _, err := signer.SignPath("../secrets.env", time.Minute); err == nil {
		t.Fatalf("expected error for traversal path")
	}
}
