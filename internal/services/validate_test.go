package services

import (
	"bytes"
	"testing"
)

var (
	testPNGHead  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	testJPEGHead = []byte{0xFF, 0xD8, 0xFF, 0xE0}
)

const testMaxBytes = 10 * 1024 * 1024

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name        string
		meta        FileMeta
		wantType    string
		wantErrKind ErrorKind
	}{
		{
			name: "valid png",
			meta: FileMeta{
				Filename:     "photo.png",
				DeclaredType: "image/png",
				Size:         1024,
				Head:         testPNGHead,
			},
			wantType: "image/png",
		},
		{
			name: "jpg alias normalized",
			meta: FileMeta{
				Filename:     "photo.jpg",
				DeclaredType: "image/jpg",
				Size:         1024,
				Head:         testJPEGHead,
			},
			wantType: "image/jpeg",
		},
		{
			name: "declared type case insensitive",
			meta: FileMeta{
				Filename:     "photo.jpg",
				DeclaredType: "IMAGE/JPEG",
				Size:         1024,
				Head:         testJPEGHead,
			},
			wantType: "image/jpeg",
		},
		{
			name: "gif allowed",
			meta: FileMeta{
				Filename:     "anim.gif",
				DeclaredType: "image/gif",
				Size:         1024,
				Head:         []byte("GIF89a"),
			},
			wantType: "image/gif",
		},
		{
			name: "pdf rejected",
			meta: FileMeta{
				Filename:     "doc.pdf",
				DeclaredType: "application/pdf",
				Size:         1024,
			},
			wantErrKind: KindUnsupportedType,
		},
		{
			name: "oversized rejected",
			meta: FileMeta{
				Filename:     "huge.png",
				DeclaredType: "image/png",
				Size:         testMaxBytes + 1,
				Head:         testPNGHead,
			},
			wantErrKind: KindTooLarge,
		},
		{
			name: "content mismatch rejected",
			meta: FileMeta{
				Filename:     "fake.png",
				DeclaredType: "image/png",
				Size:         1024,
				Head:         testJPEGHead,
			},
			wantErrKind: KindContentMismatch,
		},
		{
			name: "text content rejected",
			meta: FileMeta{
				Filename:     "fake.jpg",
				DeclaredType: "image/jpeg",
				Size:         1024,
				Head:         []byte("just some text"),
			},
			wantErrKind: KindContentMismatch,
		},
		{
			name: "empty head skips sniffing",
			meta: FileMeta{
				Filename:     "empty.png",
				DeclaredType: "image/png",
				Size:         0,
			},
			wantType: "image/png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateUpload(tt.meta, testMaxBytes)
			if tt.wantErrKind != "" {
				if err == nil {
					t.Fatalf("expected %s error, got none", tt.wantErrKind)
				}
				if KindOf(err) != tt.wantErrKind {
					t.Fatalf("expected kind %s, got %s", tt.wantErrKind, KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantType {
				t.Fatalf("expected normalized type %q, got %q", tt.wantType, got)
			}
		})
	}
}

// The allow-list fires before the size limit, and the size limit before the
// content sniff, so clients get a stable first error for multi-fault files.
func TestValidateUploadCheckOrder(t *testing.T) {
	_, err := ValidateUpload(FileMeta{
		Filename:     "huge.pdf",
		DeclaredType: "application/pdf",
		Size:         testMaxBytes + 1,
		Head:         []byte("%PDF-1.7"),
	}, testMaxBytes)
	if KindOf(err) != KindUnsupportedType {
		t.Fatalf("expected type check first, got %s", KindOf(err))
	}

	_, err = ValidateUpload(FileMeta{
		Filename:     "huge-fake.png",
		DeclaredType: "image/png",
		Size:         testMaxBytes + 1,
		Head:         testJPEGHead,
	}, testMaxBytes)
	if KindOf(err) != KindTooLarge {
		t.Fatalf("expected size check before sniff, got %s", KindOf(err))
	}
}

func TestValidateUploadLargeHead(t *testing.T) {
	head := make([]byte, SniffLen)
	copy(head, testPNGHead)

	got, err := ValidateUpload(FileMeta{
		Filename:     "padded.png",
		DeclaredType: "image/png",
		Size:         int64(SniffLen),
		Head:         head,
	}, testMaxBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "image/png" {
		t.Fatalf("expected image/png, got %q", got)
	}

	if !bytes.HasPrefix(head, testPNGHead) {
		t.Fatalf("head buffer mutated during validation")
	}
}
