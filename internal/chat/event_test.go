package chat

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMediaValidatorAcceptsHTTPSAllowListedHost(t *testing.T) {
	validator := NewMediaValidator(nil)
	validated, err := validator.Validate(MediaAttachment{
		Kind:    MediaKindGIF,
		URL:     "https://media.giphy.com/x.gif",
		AltText: "celebration",
	})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if validated.URL != "https://media.giphy.com/x.gif" {
		t.Fatalf("unexpected url: %q", validated.URL)
	}
}

func TestMediaValidatorRejectsNonHTTPS(t *testing.T) {
	validator := NewMediaValidator(nil)
	_, err := validator.Validate(MediaAttachment{Kind: MediaKindGIF, URL: "http://media.giphy.com/x.gif"})
	if !errors.Is(err, ErrMediaRejected) {
		t.Fatalf("expected ErrMediaRejected for plain http, got %v", err)
	}
}

func TestMediaValidatorRejectsForeignHost(t *testing.T) {
	validator := NewMediaValidator(nil)
	_, err := validator.Validate(MediaAttachment{Kind: MediaKindGIF, URL: "https://evil.example.com/x.gif"})
	if !errors.Is(err, ErrMediaRejected) {
		t.Fatalf("expected ErrMediaRejected for foreign host, got %v", err)
	}
}

func TestNewEventDropsBadMediaButKeepsEvent(t *testing.T) {
	validator := NewMediaValidator(nil)
	media := &MediaAttachment{Kind: MediaKindGIF, URL: "https://evil.example.com/x.gif"}
	event, err := NewEvent(1, "u-1", "Bob", "look at this", media, EventKindMessage, time.Unix(1700000000, 0), validator)
	if err != nil {
		t.Fatalf("event with body should survive media rejection: %v", err)
	}
	if event.Media != nil {
		t.Fatalf("rejected media must be dropped, got %+v", event.Media)
	}
}

func TestNewEventRejectsEmptyMessageWithoutMedia(t *testing.T) {
	validator := NewMediaValidator(nil)
	media := &MediaAttachment{Kind: MediaKindGIF, URL: "http://media.giphy.com/x.gif"}
	_, err := NewEvent(2, "u-1", "Bob", "   ", media, EventKindMessage, time.Unix(1700000000, 0), validator)
	if !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("expected ErrEmptyEvent once media is dropped, got %v", err)
	}
}

func TestNewEventAllowsEmptyBodyWithValidMedia(t *testing.T) {
	validator := NewMediaValidator(nil)
	media := &MediaAttachment{Kind: MediaKindGIF, URL: "https://i.giphy.com/win.gif", AltText: "win"}
	event, err := NewEvent(3, "u-1", "Bob", "", media, EventKindMessage, time.Unix(1700000000, 0), validator)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Media == nil || event.Media.URL != "https://i.giphy.com/win.gif" {
		t.Fatalf("expected validated media to be attached, got %+v", event.Media)
	}
}

func TestSanitizeTextStripsControlCharactersAndCaps(t *testing.T) {
	cleaned := SanitizeText("  hey\x00\x1bthere  ", 6)
	if cleaned != "heythe" {
		t.Fatalf("unexpected sanitized value: %q", cleaned)
	}
	long := SanitizeText(strings.Repeat("a", 2000), maxBodyLength)
	if len(long) != maxBodyLength {
		t.Fatalf("expected body capped at %d, got %d", maxBodyLength, len(long))
	}
}

func TestParseEventKindRejectsUnknownShape(t *testing.T) {
	if _, err := ParseEventKind("emoji-blast"); !errors.Is(err, ErrUnknownEventKind) {
		t.Fatalf("expected ErrUnknownEventKind, got %v", err)
	}
	kind, err := ParseEventKind(" Message ")
	if err != nil || kind != EventKindMessage {
		t.Fatalf("expected tolerant parse of padded casing, got %v %v", kind, err)
	}
}

func TestEventIDSourceIsStrictlyMonotonic(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	source := NewEventIDSource(func() time.Time { return fixed })
	first := source.NextID()
	second := source.NextID()
	if second <= first {
		t.Fatalf("ids must be strictly increasing, got %d then %d", first, second)
	}
	if first != fixed.UnixMilli() {
		t.Fatalf("first id should derive from the clock, got %d", first)
	}
}
