package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	obj, ok := store.Get("path/page.html")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if string(obj.Data) != "content" || obj.ContentType != "text/html" {
		t.Fatalf("unexpected stored object %+v", obj)
	}
	obj.Data[0] = 'X'
	again, _ := store.Get("path/page.html")
	if string(again.Data) != "content" {
		t.Fatalf("expected Get to return a copy, got %q", again.Data)
	}
	if store.Puts() != 1 {
		t.Fatalf("expected 1 put, got %d", store.Puts())
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected missing object")
	}
}
