package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// Kind represents why a locator could not be resolved
type Kind int

const (
	// KindUnknown indicates the failure could not be classified
	KindUnknown Kind = iota
	// KindUnavailable indicates the media is not available
	KindUnavailable
	// KindPrivate indicates the media is private
	KindPrivate
	// KindGeoRestricted indicates the media is blocked in this region
	KindGeoRestricted
	// KindAgeRestricted indicates the media requires age verification
	KindAgeRestricted
	// KindMembersOnly indicates the media is limited to channel members
	KindMembersOnly
	// KindCopyrightBlocked indicates the media was taken down on copyright grounds
	KindCopyrightBlocked
	// KindDeleted indicates the media or its account was removed
	KindDeleted
	// KindNotYetPremiered indicates a premiere or live event that has not started
	KindNotYetPremiered
	// KindExtractionFailed indicates the resolver itself failed to extract the media
	KindExtractionFailed
)

// String returns the label used for logging and bulk load summaries
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindPrivate:
		return "private"
	case KindGeoRestricted:
		return "geo_restricted"
	case KindAgeRestricted:
		return "age_restricted"
	case KindMembersOnly:
		return "members_only"
	case KindCopyrightBlocked:
		return "copyright_blocked"
	case KindDeleted:
		return "deleted"
	case KindNotYetPremiered:
		return "not_yet_premiered"
	case KindExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// Sentinel errors
var (
	// ErrEmptyLocator indicates an empty locator was supplied
	ErrEmptyLocator = errors.New("locator cannot be empty")
	// ErrNoResults indicates a search produced no playable results
	ErrNoResults = errors.New("no results found")
	// ErrNotPlaylist indicates a single-track locator was passed to playlist enumeration
	ErrNotPlaylist = errors.New("locator is not a playlist")
)

// ResolveError is a classified resolution failure
type ResolveError struct {
	Kind    Kind
	Locator string
	Message string
	Cause   error
}

// NewResolveError creates a ResolveError for the given locator
func NewResolveError(kind Kind, locator, message string, cause error) *ResolveError {
	return &ResolveError{
		Kind:    kind,
		Locator: locator,
		Message: message,
		Cause:   cause,
	}
}

// Error implements the error interface
func (e *ResolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind.String(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// KindOf returns the classification of err, or KindUnknown when err is not a ResolveError
func KindOf(err error) Kind {
	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr.Kind
	}
	return KindUnknown
}

// IsResolveError checks if err is a classified resolution failure
func IsResolveError(err error) bool {
	var resolveErr *ResolveError
	return errors.As(err, &resolveErr)
}

// classification rules, checked in order; first match wins
var classifyRules = []struct {
	kind     Kind
	patterns []string
}{
	{KindCopyrightBlocked, []string{"copyright grounds", "copyright claim", "copyright infringement"}},
	{KindGeoRestricted, []string{"available in your country", "blocked it in your country", "geo restriction", "geo-restrict", "geoblocked"}},
	{KindPrivate, []string{"private video", "this video is private", "playlist is private"}},
	{KindMembersOnly, []string{"members-only", "members only", "join this channel"}},
	{KindAgeRestricted, []string{"sign in to confirm your age", "age-restricted", "age restricted", "inappropriate for some users"}},
	{KindNotYetPremiered, []string{"premieres in", "premiere will begin", "live event will begin", "this live event will"}},
	{KindDeleted, []string{"has been removed", "account associated with this video has been terminated", "video has been deleted", "no longer available because"}},
	{KindUnavailable, []string{"video unavailable", "not available", "is unavailable", "http error 404", "does not exist"}},
	{KindExtractionFailed, []string{"unable to extract", "unsupported url", "unable to download", "no video formats found", "executable file not found"}},
}

// Classify maps raw resolver output to a failure Kind.
// Matching is heuristic and case-insensitive.
func Classify(output string) Kind {
	lower := strings.ToLower(output)
	for _, rule := range classifyRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// ClassifyError wraps err in a ResolveError using its text and any captured stderr
func ClassifyError(locator, stderr string, err error) *ResolveError {
	if err == nil && stderr == "" {
		return nil
	}

	var resolveErr *ResolveError
	if errors.As(err, &resolveErr) {
		return resolveErr
	}

	text := stderr
	if err != nil {
		text = stderr + "\n" + err.Error()
	}
	kind := Classify(text)

	message := firstErrorLine(stderr)
	if message == "" && err != nil {
		message = err.Error()
	}
	return NewResolveError(kind, locator, message, err)
}

// PlaceholderKind recognizes the titles flat playlists use for entries
// that cannot be played, so they can be skipped without a resolve round trip
func PlaceholderKind(title string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(title)) {
	case "[private video]":
		return KindPrivate, true
	case "[deleted video]":
		return KindDeleted, true
	case "[unavailable video]":
		return KindUnavailable, true
	default:
		return KindUnknown, false
	}
}

// firstErrorLine returns the first "ERROR:" line of yt-dlp stderr, or the first non-empty line
func firstErrorLine(stderr string) string {
	var first string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
		if first == "" {
			first = line
		}
	}
	return first
}
