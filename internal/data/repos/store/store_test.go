package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestChunk(t *testing.T) {
	ids := make([]uuid.UUID, 7)
	for i := range ids {
		ids[i] = uuid.New()
	}
	chunks := Chunk(ids, 3)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if len(Chunk(nil, 3)) != 0 {
		t.Fatalf("nil input should produce no chunks")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pg := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(pg) {
		t.Fatalf("postgres 23505 should be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: virtual_topic.id")) {
		t.Fatalf("sqlite message should be recognized")
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("nil is not a violation")
	}
}

func TestValidField(t *testing.T) {
	for _, f := range []string{"topic_id", "id", "virtual_module_id"} {
		if !ValidField(f) {
			t.Fatalf("%s should be valid", f)
		}
	}
	for _, f := range []string{"", "Topic", "id; drop table x", "1abc"} {
		if ValidField(f) {
			t.Fatalf("%q should be invalid", f)
		}
	}
}
