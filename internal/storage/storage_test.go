package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/config"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "feeds/late-night.ics", []byte("BEGIN:VCALENDAR"), "text/calendar"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, "feeds/late-night.ics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "BEGIN:VCALENDAR" {
		t.Fatalf("data = %q", data)
	}
	if !strings.HasPrefix(store.URL("feeds/late-night.ics"), "file://") {
		t.Fatalf("url = %q", store.URL("feeds/late-night.ics"))
	}

	if _, err := store.Get(ctx, "feeds/missing.ics"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, "../escape.ics", nil, ""); err == nil {
		t.Fatal("keys escaping the root should be rejected")
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Bucket: "feeds", Region: "eu-west-1"}, "https://feeds.s3.eu-west-1.amazonaws.com/a.ics"},
		{"cdn", S3Config{Bucket: "feeds", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/a.ics"},
		{"minio path style", S3Config{Bucket: "feeds", Endpoint: "http://minio:9000", UsePathStyle: true}, "http://minio:9000/feeds/a.ics"},
		{"virtual host endpoint", S3Config{Bucket: "feeds", Endpoint: "https://nyc3.digitaloceanspaces.com"}, "https://feeds.nyc3.digitaloceanspaces.com/a.ics"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectURL(tt.cfg, "/a.ics"); got != tt.want {
				t.Errorf("objectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()
	store, err := FromConfig(ctx, &config.Config{}, zerolog.Nop())
	if err != nil || store != nil {
		t.Fatalf("no storage configured = %v, %v", store, err)
	}

	store, err = FromConfig(ctx, &config.Config{ExportDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := store.(*FilesystemStore); !ok {
		t.Fatalf("store = %T, want *FilesystemStore", store)
	}

	store, err = FromConfig(ctx, &config.Config{S3Bucket: "feeds", S3Region: "us-east-1", S3AccessKeyID: "k", S3SecretAccessKey: "s"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("FromConfig s3: %v", err)
	}
	if _, ok := store.(*S3Store); !ok {
		t.Fatalf("store = %T, want *S3Store", store)
	}
}
