package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatvault-io/chatvault/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleConv(id, title string) model.Conversation {
	ts := model.At(time.Date(2024, 3, 1, 10, 0, 0, 500e6, time.UTC))
	return model.Conversation{
		ID:      id,
		Title:   title,
		Created: ts,
		Updated: ts,
		Format:  model.FormatClaude,
		Messages: []model.Message{
			{ID: id + "-m1", Role: model.RoleUser, Content: "hello", Timestamp: ts},
			{ID: id + "-m2", Role: model.RoleAssistant, Content: "hi", Timestamp: ts},
		},
	}
}

func TestBlob_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	b, err := NewBlob(path, 0, discardLogger())
	if err != nil {
		t.Fatalf("new blob: %v", err)
	}
	ctx := context.Background()

	want := []model.Conversation{sampleConv("c1", "First"), sampleConv("c2", "Second")}
	if err := b.SaveAll(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(got))
	}
	if got[0].ID != "c1" || got[1].ID != "c2" {
		t.Errorf("ids = %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].Created.Equal(want[0].Created.Time) {
		t.Errorf("created drifted: %v != %v", got[0].Created.Time, want[0].Created.Time)
	}
	if len(got[0].Messages) != 2 || got[0].Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", got[0].Messages)
	}
}

func TestBlob_LoadMissingFile(t *testing.T) {
	b, err := NewBlob(filepath.Join(t.TempDir(), "conversations.json"), 0, discardLogger())
	if err != nil {
		t.Fatalf("new blob: %v", err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty archive, got %d", len(got))
	}

	size, err := b.SizeBytes(context.Background())
	if err != nil || size != 0 {
		t.Errorf("size = %d, %v", size, err)
	}
}

func TestBlob_QuotaRefusalLeavesFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	b, err := NewBlob(path, 200, discardLogger())
	if err != nil {
		t.Fatalf("new blob: %v", err)
	}
	ctx := context.Background()

	small := []model.Conversation{{ID: "c1", Format: model.FormatClaude}}
	if err := b.SaveAll(ctx, small); err != nil {
		t.Fatalf("small save should fit: %v", err)
	}

	big := []model.Conversation{sampleConv("c2", "A conversation that will not fit in two hundred bytes")}
	err = b.SaveAll(ctx, big)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// The refused write must not have clobbered the previous archive.
	got, err := b.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("archive changed after refused write: %+v", got)
	}
}

func TestBlob_CorruptedFileErasedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	b, err := NewBlob(path, 0, discardLogger())
	if err != nil {
		t.Fatalf("new blob: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"this is": not json`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := b.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("corruption must not propagate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty archive, got %d", len(got))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupted file should have been erased")
	}
}

func TestBlob_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	b, err := NewBlob(path, 0, discardLogger())
	if err != nil {
		t.Fatalf("new blob: %v", err)
	}
	ctx := context.Background()

	if err := b.SaveAll(ctx, []model.Conversation{sampleConv("c1", "t")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := b.LoadAll(ctx)
	if err != nil || len(got) != 0 {
		t.Errorf("archive not empty after clear: %d, %v", len(got), err)
	}

	// Clearing an already empty store is fine.
	if err := b.Clear(ctx); err != nil {
		t.Errorf("second clear: %v", err)
	}
}
