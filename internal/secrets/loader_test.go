package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestLoad(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, nil, 0o600); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}
	if err := Store("gemini", "from-keychain"); err != nil {
		t.Fatalf("storing secret: %v", err)
	}

	tests := []struct {
		name    string
		src     Source
		want    string
		wantErr string
	}{
		{name: "file wins", src: Source{Name: "api key", Value: "inline", File: keyFile, KeyringAccount: "gemini"}, want: "from-file"},
		{name: "inline before keychain", src: Source{Value: " inline ", KeyringAccount: "gemini"}, want: "inline"},
		{name: "keychain", src: Source{KeyringAccount: "gemini"}, want: "from-keychain"},
		{name: "empty file", src: Source{Name: "api key", File: emptyFile}, wantErr: "is empty"},
		{name: "missing file", src: Source{File: filepath.Join(dir, "absent")}, wantErr: "reading secret"},
		{name: "unknown account", src: Source{Name: "api key", KeyringAccount: "other"}, wantErr: "not in the keychain"},
		{name: "nothing", src: Source{Name: "api key"}, wantErr: "api key is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if err := Delete("gemini"); err != nil {
		t.Fatalf("deleting secret: %v", err)
	}
	if _, err := Load(Source{KeyringAccount: "gemini"}); err == nil {
		t.Fatalf("expected error after delete")
	}
	if err := Store(" ", "x"); err == nil {
		t.Fatalf("expected error for empty account")
	}
}
