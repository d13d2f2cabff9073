package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/catalog"
)

func TestExtractPromptTextStringContent(t *testing.T) {
	body := []byte(`{"system":"be terse","messages":[{"role":"user","content":"hello there"}]}`)
	got := ExtractPromptText(body)
	if got != "be terse\nhello there" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPromptTextBlockContent(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"part one"},{"type":"image","text":"ignored"},{"type":"text","text":"part two"}]}]}`)
	got := ExtractPromptText(body)
	if got != "part one\npart two" {
		t.Fatalf("got %q", got)
	}
}

func TestDetectSourceCLI(t *testing.T) {
	cases := []string{"curl/8.0", "some-cli/1.0", "node-fetch", "python-requests/2.31", "HTTPie/3.2"}
	for _, ua := range cases {
		if got := DetectSource(ua); got != "cli" {
			t.Fatalf("DetectSource(%q) = %q, want cli", ua, got)
		}
	}
}

func TestDetectSourceWeb(t *testing.T) {
	if got := DetectSource("Mozilla/5.0 (Macintosh)"); got != "web" {
		t.Fatalf("got %q, want web", got)
	}
}

func TestExtractPreviewRedactsSensitiveText(t *testing.T) {
	text := "my ssn is 123-45-6789 please store it"
	if got := ExtractPreview(text, 200); got != "[REDACTED]" {
		t.Fatalf("got %q, want [REDACTED]", got)
	}
}

func TestExtractPreviewTruncatesLongText(t *testing.T) {
	long := make([]rune, 500)
	for i := range long {
		long[i] = 'a'
	}
	got := ExtractPreview(string(long), 200)
	runes := []rune(got)
	if len(runes) != 201 {
		t.Fatalf("expected 200 chars + ellipsis = 201 runes, got %d", len(runes))
	}
	if runes[200] != '…' {
		t.Fatal("expected trailing ellipsis")
	}
}

func TestExtractPreviewPassesShortText(t *testing.T) {
	if got := ExtractPreview("short text", 200); got != "short text" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildAuditEntryComputesCostAndLatency(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	start := time.Now().Add(-50 * time.Millisecond)
	userID := "alice"
	category := "general_qa"
	entry := BuildAuditEntry(cat, BuildEntryInput{
		RequestID:       "req-1",
		UserID:          &userID,
		Model:           "claude-haiku-4-20250514",
		RequestCategory: &category,
		Source:          "web",
		PromptText:      "hello",
		ResponseText:    "hi there",
		InputTokens:     10,
		OutputTokens:    5,
		StartTime:       start,
		Status:          "success",
	})
	if entry.LatencyMs < 40 {
		t.Fatalf("expected latency to reflect elapsed time, got %dms", entry.LatencyMs)
	}
	if entry.CostEstimate <= 0 {
		t.Fatal("expected nonzero cost estimate for a known model")
	}
	if entry.PromptHash != HashPrompt("hello") {
		t.Fatal("prompt hash mismatch")
	}
}

type fakeAuditStore struct {
	mu        sync.Mutex
	inserted  []gateway.AuditLogRecord
	fail      bool
	unconfged bool
}

func (f *fakeAuditStore) Configured() bool { return !f.unconfged }

func (f *fakeAuditStore) InsertAuditLog(_ context.Context, e gateway.AuditLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFake{}
	}
	f.inserted = append(f.inserted, e)
	return nil
}

type errFake struct{}

func (errFake) Error() string { return "insert failed" }

func TestCommitAuditLogInsertsWhenConfigured(t *testing.T) {
	store := &fakeAuditStore{}
	CommitAuditLog(context.Background(), store, gateway.AuditLogRecord{RequestID: "req-2"})
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
}

func TestCommitAuditLogNoopWhenUnconfigured(t *testing.T) {
	store := &fakeAuditStore{unconfged: true}
	CommitAuditLog(context.Background(), store, gateway.AuditLogRecord{RequestID: "req-3"})
	if len(store.inserted) != 0 {
		t.Fatal("expected no insert against an unconfigured store")
	}
}

func TestCommitAuditLogSwallowsStoreFailure(t *testing.T) {
	store := &fakeAuditStore{fail: true}
	// Must not panic even though the insert fails.
	CommitAuditLog(context.Background(), store, gateway.AuditLogRecord{RequestID: "req-4"})
}
