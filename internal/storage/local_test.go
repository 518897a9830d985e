package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapvault/backend/internal/config"
)

func newTestLocalClient(t *testing.T) (*LocalClient, string) {
	t.Helper()

	root := t.TempDir()
	client, err := NewLocalClient(config.LocalStorageConfig{
		RootDir: root,
		BaseURL: "/uploads/",
	})
	if err != nil {
		t.Fatalf("failed creating local client: %v", err)
	}
	return client, root
}

func TestLocalClientRoundTrip(t *testing.T) {
	client, root := newTestLocalClient(t)
	ctx := context.Background()

	content := []byte("photo bytes")
	key := NewObjectKey("photos/test-group", "beach.JPG")

	if !strings.HasPrefix(key, "photos/test-group/") {
		t.Fatalf("expected key under the prefix, got %q", key)
	}
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("expected lowercased extension, got %q", key)
	}

	if err := client.Put(ctx, key, strings.NewReader(string(content)), int64(len(content)), "image/jpeg"); err != nil {
		t.Fatalf("failed storing object: %v", err)
	}

	reader, err := client.Open(ctx, key)
	if err != nil {
		t.Fatalf("failed opening object: %v", err)
	}
	got, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("failed reading object: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("expected %q, got %q", content, got)
	}

	url, err := client.URL(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("failed resolving URL: %v", err)
	}
	if url != "/uploads/"+key {
		t.Fatalf("expected base-relative URL, got %q", url)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("failed deleting object: %v", err)
	}
	if _, err := client.Open(ctx, key); err == nil {
		t.Fatalf("expected open to fail after delete")
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(key))); !os.IsNotExist(err) {
		t.Fatalf("expected file removed from disk, got %v", err)
	}
}

func TestLocalClientDeleteMissingKey(t *testing.T) {
	client, _ := newTestLocalClient(t)

	if err := client.Delete(context.Background(), "photos/none/missing.jpg"); err != nil {
		t.Fatalf("deleting a missing object must be a no-op, got %v", err)
	}
}

func TestLocalClientRejectsEscapingKeys(t *testing.T) {
	client, root := newTestLocalClient(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o600); err != nil {
		t.Fatalf("failed planting outside file: %v", err)
	}

	keys := []string{
		"../outside.txt",
		"photos/../../outside.txt",
		"/etc/passwd",
		".",
	}
	for _, key := range keys {
		if _, err := client.Open(ctx, key); err == nil {
			t.Fatalf("expected open of %q to be rejected", key)
		}
		if err := client.Put(ctx, key, strings.NewReader("x"), 1, "text/plain"); err == nil {
			t.Fatalf("expected put of %q to be rejected", key)
		}
	}
}

func TestLocalClientPutIsAtomic(t *testing.T) {
	client, root := newTestLocalClient(t)
	ctx := context.Background()

	reader := io.MultiReader(strings.NewReader("partial"), failingReader{})
	err := client.Put(ctx, "photos/g/broken.jpg", reader, 1024, "image/jpeg")
	if err == nil {
		t.Fatalf("expected put to fail with a broken reader")
	}

	if _, statErr := os.Stat(filepath.Join(root, "photos", "g", "broken.jpg")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no object at the final key after a failed write")
	}

	entries, err := os.ReadDir(filepath.Join(root, "photos", "g"))
	if err != nil {
		t.Fatalf("failed listing directory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
