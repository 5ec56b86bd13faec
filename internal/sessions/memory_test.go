package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/operon/pkg/models"
)

func TestMemoryStoreCreateAssignsID(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewSession("", "writer")

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated ID")
	}
}

func TestMemoryStoreGetReturnsClone(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewSession("s1", "writer")
	session.Append(models.Message{Role: models.RoleUser, Content: models.NewTextContent("hi")})
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Messages[0].Content.Text = "mutated"

	again, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Messages[0].Content.Text != "hi" {
		t.Error("mutating a returned session leaked into the store")
	}
}

func TestMemoryStoreGetUnknownReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMemoryStoreListFiltersByAgent(t *testing.T) {
	store := NewMemoryStore()
	for _, s := range []*models.Session{
		models.NewSession("a", "writer"),
		models.NewSession("b", "writer"),
		models.NewSession("c", "reviewer"),
	} {
		if err := store.Create(context.Background(), s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := store.List(context.Background(), "writer")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	session := models.NewSession("s1", "writer")
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}
