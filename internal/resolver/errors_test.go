package resolver

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		expected string
	}{
		{"Unavailable", KindUnavailable, "unavailable"},
		{"Private", KindPrivate, "private"},
		{"Geo", KindGeoRestricted, "geo_restricted"},
		{"Age", KindAgeRestricted, "age_restricted"},
		{"Members", KindMembersOnly, "members_only"},
		{"Copyright", KindCopyrightBlocked, "copyright_blocked"},
		{"Deleted", KindDeleted, "deleted"},
		{"Premiere", KindNotYetPremiered, "not_yet_premiered"},
		{"Extraction", KindExtractionFailed, "extraction_failed"},
		{"Unknown", KindUnknown, "unknown"},
		{"Out of range", Kind(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Kind
	}{
		{
			name:   "copyright wins over unavailable",
			output: "ERROR: [youtube] abc: Video unavailable. This video contains content from X, who has blocked it on copyright grounds",
			want:   KindCopyrightBlocked,
		},
		{
			name:   "geo block",
			output: "ERROR: [youtube] abc: Video unavailable. The uploader has not made this video available in your country",
			want:   KindGeoRestricted,
		},
		{
			name:   "geo block explicit",
			output: "ERROR: [youtube] abc: This video is not available in your country",
			want:   KindGeoRestricted,
		},
		{
			name:   "private",
			output: "ERROR: [youtube] abc: Private video. Sign in if you've been granted access to this video",
			want:   KindPrivate,
		},
		{
			name:   "members only",
			output: "ERROR: [youtube] abc: Join this channel to get access to members-only content like this video",
			want:   KindMembersOnly,
		},
		{
			name:   "age gate",
			output: "ERROR: [youtube] abc: Sign in to confirm your age. This video may be inappropriate for some users.",
			want:   KindAgeRestricted,
		},
		{
			name:   "premiere",
			output: "ERROR: [youtube] abc: Premieres in 3 hours",
			want:   KindNotYetPremiered,
		},
		{
			name:   "terminated account",
			output: "ERROR: [youtube] abc: Video unavailable. This video is no longer available because the YouTube account associated with this video has been terminated.",
			want:   KindDeleted,
		},
		{
			name:   "removed by uploader",
			output: "ERROR: [youtube] abc: Video unavailable. This video has been removed by the uploader",
			want:   KindDeleted,
		},
		{
			name:   "plain unavailable",
			output: "ERROR: [youtube] abc: Video unavailable",
			want:   KindUnavailable,
		},
		{
			name:   "extraction",
			output: "ERROR: Unsupported URL: https://example.com/thing",
			want:   KindExtractionFailed,
		},
		{
			name:   "case insensitive",
			output: "PRIVATE VIDEO",
			want:   KindPrivate,
		},
		{
			name:   "unknown",
			output: "something odd happened",
			want:   KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.output); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	cause := errors.New("exit status 1")
	stderr := "WARNING: something\nERROR: [youtube] abc: Private video\n"

	err := ClassifyError("https://youtu.be/abc", stderr, cause)
	if err == nil {
		t.Fatal("ClassifyError() returned nil")
	}
	if err.Kind != KindPrivate {
		t.Errorf("Kind = %v, want %v", err.Kind, KindPrivate)
	}
	if err.Message != "[youtube] abc: Private video" {
		t.Errorf("Message = %q", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("ClassifyError() should wrap the cause")
	}
	if err.Locator != "https://youtu.be/abc" {
		t.Errorf("Locator = %q", err.Locator)
	}

	if ClassifyError("x", "", nil) != nil {
		t.Error("ClassifyError() with nothing to classify should return nil")
	}
}

func TestClassifyError_PreservesExisting(t *testing.T) {
	original := NewResolveError(KindGeoRestricted, "loc", "blocked", nil)
	wrapped := fmt.Errorf("resolve: %w", original)

	got := ClassifyError("loc", "", wrapped)
	if got != original {
		t.Errorf("ClassifyError() = %v, want the original ResolveError", got)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewResolveError(KindMembersOnly, "loc", "members", nil))
	if got := KindOf(err); got != KindMembersOnly {
		t.Errorf("KindOf() = %v, want %v", got, KindMembersOnly)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindUnknown)
	}
	if !IsResolveError(err) {
		t.Error("IsResolveError() = false, want true")
	}
}

func TestResolveError_Error(t *testing.T) {
	err := NewResolveError(KindDeleted, "loc", "gone", nil)
	if got := err.Error(); got != "deleted: gone" {
		t.Errorf("Error() = %q", got)
	}

	err = NewResolveError(KindUnknown, "loc", "odd", errors.New("boom"))
	if got := err.Error(); got != "unknown: odd (caused by: boom)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPlaceholderKind(t *testing.T) {
	tests := []struct {
		title  string
		want   Kind
		wantOK bool
	}{
		{"[Private video]", KindPrivate, true},
		{"[Deleted video]", KindDeleted, true},
		{" [deleted video] ", KindDeleted, true},
		{"Never Gonna Give You Up", KindUnknown, false},
	}
	for _, tt := range tests {
		got, ok := PlaceholderKind(tt.title)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("PlaceholderKind(%q) = %v, %v; want %v, %v", tt.title, got, ok, tt.want, tt.wantOK)
		}
	}
}
