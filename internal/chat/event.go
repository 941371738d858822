package chat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// EventKind enumerates the supported chat event variants.
type EventKind string

const (
	// EventKindMessage is an ordinary chat message, optionally carrying media.
	EventKindMessage EventKind = "message"
	// EventKindReaction is an emoji reaction to the room at large.
	EventKindReaction EventKind = "reaction"
	// EventKindSystem is a server-originated notice (joins, poll results).
	EventKindSystem EventKind = "system"
)

// MediaKindGIF is the only attachment kind currently accepted.
const MediaKindGIF = "gif"

const (
	maxAuthorNameLength = 64
	maxBodyLength       = 1000
	maxAltTextLength    = 200
)

var (
	// ErrInvalidEventID indicates a non-positive event identifier.
	ErrInvalidEventID = errors.New("chat: invalid event id")
	// ErrUnknownEventKind indicates a kind outside the enumerated set.
	ErrUnknownEventKind = errors.New("chat: unknown event kind")
	// ErrEmptyEvent indicates a message with neither body text nor media.
	ErrEmptyEvent = errors.New("chat: event requires body or media")
	// ErrMediaRejected indicates the attachment failed URL validation.
	ErrMediaRejected = errors.New("chat: media attachment rejected")
)

// defaultMediaHosts is the allow-list applied when config supplies none.
var defaultMediaHosts = []string{
	"media.giphy.com",
	"media0.giphy.com",
	"media1.giphy.com",
	"media2.giphy.com",
	"media3.giphy.com",
	"media4.giphy.com",
	"i.giphy.com",
}

// MediaAttachment is a validated structured attachment on a message event.
type MediaAttachment struct {
	Kind    string `json:"kind"`
	URL     string `json:"url"`
	AltText string `json:"alt_text"`
}

// Event is one unit of chat activity. Events are immutable after creation;
// ID doubles as the deduplication key and is unique within a session.
type Event struct {
	ID         int64            `json:"id"`
	AuthorID   string           `json:"author_id"`
	AuthorName string           `json:"author_name"`
	Body       string           `json:"body"`
	Media      *MediaAttachment `json:"media,omitempty"`
	Kind       EventKind        `json:"kind"`
	CreatedAt  int64            `json:"created_at_ms"`
}

// DisplayTime derives the human-readable timestamp from the epoch value.
func (e Event) DisplayTime() string {
	return time.UnixMilli(e.CreatedAt).UTC().Format("15:04")
}

// ParseEventKind validates a raw kind value from an untrusted payload.
func ParseEventKind(raw string) (EventKind, error) {
	switch EventKind(strings.ToLower(strings.TrimSpace(raw))) {
	case EventKindMessage:
		return EventKindMessage, nil
	case EventKindReaction:
		return EventKindReaction, nil
	case EventKindSystem:
		return EventKindSystem, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, raw)
	}
}

// SanitizeText trims the value, strips control characters, and caps it at
// limit runes. Transport payloads are untrusted; every author name and body
// passes through here before entering session state.
func SanitizeText(raw string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimSpace(cleaned)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// MediaValidator checks attachment URLs against the https scheme and a host
// allow-list before they are accepted into an event.
type MediaValidator struct {
	allowedHosts map[string]struct{}
}

// NewMediaValidator builds a validator over the provided hosts, falling back
// to the default GIF hosting allow-list when none are given.
func NewMediaValidator(hosts []string) *MediaValidator {
	if len(hosts) == 0 {
		hosts = defaultMediaHosts
	}
	allowed := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		normalized := strings.ToLower(strings.TrimSpace(host))
		if normalized == "" {
			continue
		}
		allowed[normalized] = struct{}{}
	}
	return &MediaValidator{allowedHosts: allowed}
}

// Validate returns a sanitized copy of the attachment, or ErrMediaRejected
// when the URL is not https or its host is not allow-listed. Callers drop
// the attachment and keep the event on rejection.
func (v *MediaValidator) Validate(attachment MediaAttachment) (MediaAttachment, error) {
	if attachment.Kind != MediaKindGIF {
		return MediaAttachment{}, fmt.Errorf("%w: unsupported kind %q", ErrMediaRejected, attachment.Kind)
	}
	parsed, err := url.Parse(strings.TrimSpace(attachment.URL))
	if err != nil {
		return MediaAttachment{}, fmt.Errorf("%w: %v", ErrMediaRejected, err)
	}
	if parsed.Scheme != "https" {
		return MediaAttachment{}, fmt.Errorf("%w: scheme %q not allowed", ErrMediaRejected, parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if _, ok := v.allowedHosts[host]; !ok {
		return MediaAttachment{}, fmt.Errorf("%w: host %q not allow-listed", ErrMediaRejected, host)
	}
	return MediaAttachment{
		Kind:    MediaKindGIF,
		URL:     parsed.String(),
		AltText: SanitizeText(attachment.AltText, maxAltTextLength),
	}, nil
}

// NewEvent assembles a sanitized event from untrusted inputs. Media failing
// validation is dropped while the event itself survives, unless dropping it
// leaves a message with no content at all.
func NewEvent(id int64, authorID, authorName, body string, media *MediaAttachment, kind EventKind, createdAt time.Time, validator *MediaValidator) (Event, error) {
	if id <= 0 {
		return Event{}, fmt.Errorf("%w: %d", ErrInvalidEventID, id)
	}
	if _, err := ParseEventKind(string(kind)); err != nil {
		return Event{}, err
	}

	event := Event{
		ID:         id,
		AuthorID:   strings.TrimSpace(authorID),
		AuthorName: SanitizeText(authorName, maxAuthorNameLength),
		Body:       SanitizeText(body, maxBodyLength),
		Kind:       kind,
		CreatedAt:  createdAt.UnixMilli(),
	}

	if media != nil && validator != nil {
		validated, err := validator.Validate(*media)
		if err == nil {
			event.Media = &validated
		}
	}

	if kind == EventKindMessage && event.Body == "" && event.Media == nil {
		return Event{}, ErrEmptyEvent
	}

	return event, nil
}
