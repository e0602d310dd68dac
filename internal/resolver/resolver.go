// Package resolver turns locators (URLs or free-text searches) into playable tracks
// by driving yt-dlp, and classifies its failures.
package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/stwalsh4118/cadence/internal/models"
)

// Mode selects whether resolution hands back a remote stream URL or a downloaded file
type Mode int

const (
	// ModeStream resolves to a direct stream URL; nothing is written to disk
	ModeStream Mode = iota
	// ModeDownload downloads the media into the artifact directory
	ModeDownload
)

// String returns the string representation of Mode
func (m Mode) String() string {
	if m == ModeDownload {
		return "download"
	}
	return "stream"
}

// ParseMode converts a configuration value to a Mode
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "download") {
		return ModeDownload
	}
	return ModeStream
}

// Entry is a lightweight playlist member produced without fetching the media itself
type Entry struct {
	ID       string
	URL      string
	Title    string
	Duration time.Duration
}

// Playlist is the enumerated membership of a playlist locator
type Playlist struct {
	Title   string
	Entries []Entry
	// Total is the number of entries the source reported before any cap was applied.
	// Zero when unknown.
	Total int
}

// Resolver resolves locators into tracks and enumerates playlists
type Resolver interface {
	// ResolveOne resolves a single locator. Failures are *ResolveError.
	ResolveOne(ctx context.Context, locator string, mode Mode) (*models.Track, error)
	// ResolvePlaylist enumerates up to limit entries of a playlist locator without resolving them.
	ResolvePlaylist(ctx context.Context, locator string, limit int) (*Playlist, error)
}

var hostPattern = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?(youtube\.com|youtu\.be|spotify\.com|soundcloud\.com)`)

// IsURL reports whether the locator should be treated as a link rather than a search query
func IsURL(locator string) bool {
	locator = strings.TrimSpace(locator)
	if hostPattern.MatchString(locator) {
		return true
	}
	u, err := url.Parse(locator)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsPlaylist reports whether a URL locator names a playlist, set or album
func IsPlaylist(locator string) bool {
	if !IsURL(locator) {
		return false
	}
	raw := strings.TrimSpace(locator)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	path := strings.ToLower(u.Path)
	if strings.Contains(path, "/playlist") || strings.Contains(path, "/sets/") || strings.Contains(path, "/album/") {
		return true
	}

	q := u.Query()
	return q.Get("list") != "" && q.Get("v") == ""
}

// WatchURL returns the canonical watch URL for a video id
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
