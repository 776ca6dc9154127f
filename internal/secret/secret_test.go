package secret

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSealOpen(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("new salt: %v", err)
	}
	box, err := NewBox("correct horse", salt)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	plain := []byte(`{"token":"123:abc","chat_id":"@news"}`)
	sealed, err := box.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("123:abc")) {
		t.Fatal("sealed data contains the plaintext token")
	}

	got, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if diff := cmp.Diff(plain, got); diff != "" {
		t.Errorf("plaintext mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenWrongKey(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("new salt: %v", err)
	}
	a, _ := NewBox("one", salt)
	b, _ := NewBox("two", salt)

	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Error("expected error opening with a different passphrase")
	}
}

func TestOpenTruncated(t *testing.T) {
	salt, _ := NewSalt()
	box, _ := NewBox("k", salt)
	if _, err := box.Open([]byte("short")); err == nil {
		t.Error("expected error for truncated input")
	}
}

func TestNewBoxBadSalt(t *testing.T) {
	if _, err := NewBox("k", []byte("tiny")); err == nil {
		t.Error("expected error for short salt")
	}
}
