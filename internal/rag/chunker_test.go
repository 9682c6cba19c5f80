package rag

import "testing"

func TestChunkTextEmpty(t *testing.T) {
	chunks, err := ChunkText("", 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("got %d chunks, want 0", len(chunks))
	}
}

func TestChunkTextCount(t *testing.T) {
	text := make([]rune, 2000)
	for i := range text {
		text[i] = 'a'
	}
	chunks, err := ChunkText(string(text), 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	// ceil((2000-100)/(800-100)) = ceil(1900/700) = 3
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[len(chunks)-1]) == 0 {
		t.Fatal("final chunk should not be empty")
	}
}

func TestChunkTextOverlap(t *testing.T) {
	chunks, err := ChunkText("abcdefghij", 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	// stride 3: [0:5)="abcde", [3:8)="defgh", [6:10)="ghij" (shorter final chunk)
	want := []string{"abcde", "defgh", "ghij"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %v", len(chunks), len(want), chunks)
	}
	for i, c := range chunks {
		if c != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, c, want[i])
		}
	}
}

func TestChunkTextRejectsBadOverlap(t *testing.T) {
	if _, err := ChunkText("abc", 5, 5); err == nil {
		t.Fatal("expected error when overlap == chunkSize")
	}
}
