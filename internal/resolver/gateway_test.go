package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, run runFunc) *Gateway {
	t.Helper()
	g := NewGateway(Options{
		ArtifactDir:      t.TempDir(),
		Workers:          2,
		CircuitThreshold: 2,
		CircuitReset:     time.Hour,
	})
	g.run = run
	g.search = func(context.Context, string) (string, error) { return "", ErrNoResults }
	return g
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		locator string
		want    bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"youtu.be/dQw4w9WgXcQ", true},
		{"soundcloud.com/artist/track", true},
		{"http://example.com/audio.mp3", true},
		{"never gonna give you up", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsURL(tt.locator), tt.locator)
	}
}

func TestIsPlaylist(t *testing.T) {
	tests := []struct {
		locator string
		want    bool
	}{
		{"https://www.youtube.com/playlist?list=PL123", true},
		{"https://www.youtube.com/watch?list=PL123", true},
		{"https://www.youtube.com/watch?v=abc&list=PL123", false},
		{"https://soundcloud.com/artist/sets/mix", true},
		{"https://open.spotify.com/album/xyz", true},
		{"https://www.youtube.com/watch?v=abc", false},
		{"lofi playlist", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPlaylist(tt.locator), tt.locator)
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeDownload, ParseMode("download"))
	assert.Equal(t, ModeStream, ParseMode("stream"))
	assert.Equal(t, ModeStream, ParseMode(""))
}

func TestParseTrackOutput(t *testing.T) {
	out := "garbage line\nabc\tSong\tArtist\t212.5\thttps://www.youtube.com/watch?v=abc\thttps://cdn/audio\n"
	meta, ok := parseTrackOutput(out)
	require.True(t, ok)
	assert.Equal(t, "Song", meta.title)
	assert.Equal(t, "Artist", meta.uploader)
	assert.Equal(t, 212500*time.Millisecond, meta.duration)
	assert.Equal(t, "https://cdn/audio", meta.ref)

	meta, ok = parseTrackOutput("abc\tRadio\tNA\tNA\tNA\thttps://live/stream")
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), meta.duration, "NA duration means live")
	assert.Equal(t, "", meta.uploader)

	_, ok = parseTrackOutput("")
	assert.False(t, ok)
}

func TestParsePlaylistOutput(t *testing.T) {
	out := strings.Join([]string{
		"Mix\tid1\thttps://www.youtube.com/watch?v=id1\tFirst\t100\t120",
		"Mix\tid2\tNA\tSecond\tNA\t120",
		"Mix\tNA\tNA\t[Deleted video]\tNA\t120",
		"short\tline",
	}, "\n")

	p := parsePlaylistOutput(out)
	assert.Equal(t, "Mix", p.Title)
	assert.Equal(t, 120, p.Total)
	require.Len(t, p.Entries, 2)
	assert.Equal(t, "https://www.youtube.com/watch?v=id2", p.Entries[1].URL)
	assert.Equal(t, 100*time.Second, p.Entries[0].Duration)
}

func TestGateway_ResolveOneStream(t *testing.T) {
	var gotArgs []string
	g := newTestGateway(t, func(_ context.Context, _ *ytdlp.Command, args ...string) (string, string, error) {
		gotArgs = args
		return "abc\tSong\tArtist\t180\thttps://www.youtube.com/watch?v=abc\thttps://cdn/abc\n", "", nil
	})

	track, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeStream)
	require.NoError(t, err)
	assert.Equal(t, "Song", track.Title)
	assert.Equal(t, "https://cdn/abc", track.PlayableRef)
	assert.Equal(t, "https://youtu.be/abc", track.SourceLocator)
	assert.Empty(t, track.ArtifactPath)
	assert.Contains(t, gotArgs, "--skip-download")
}

func TestGateway_ResolveOneSearchFallsBackToYtdlpSearch(t *testing.T) {
	var target string
	g := newTestGateway(t, func(_ context.Context, _ *ytdlp.Command, args ...string) (string, string, error) {
		target = args[len(args)-1]
		return "abc\tSong\tArtist\t180\thttps://www.youtube.com/watch?v=abc\thttps://cdn/abc\n", "", nil
	})

	track, err := g.ResolveOne(context.Background(), "rick astley", ModeStream)
	require.NoError(t, err)
	assert.Equal(t, "ytsearch1:rick astley", target)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", track.SourceLocator)
}

func TestGateway_ResolveOneUsesNativeSearch(t *testing.T) {
	var target string
	g := newTestGateway(t, func(_ context.Context, _ *ytdlp.Command, args ...string) (string, string, error) {
		target = args[len(args)-1]
		return "xyz\tSong\tArtist\t180\thttps://www.youtube.com/watch?v=xyz\thttps://cdn/xyz\n", "", nil
	})
	g.search = func(context.Context, string) (string, error) { return "xyz", nil }

	_, err := g.ResolveOne(context.Background(), "some song", ModeStream)
	require.NoError(t, err)
	assert.Equal(t, WatchURL("xyz"), target)
}

func TestGateway_ResolveOneClassifiesFailure(t *testing.T) {
	g := newTestGateway(t, func(context.Context, *ytdlp.Command, ...string) (string, string, error) {
		return "", "ERROR: [youtube] abc: Sign in to confirm your age", errors.New("exit status 1")
	})

	_, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeStream)
	require.Error(t, err)
	assert.Equal(t, KindAgeRestricted, KindOf(err))
}

func TestGateway_ResolveOneDownload(t *testing.T) {
	var artifact string
	g := newTestGateway(t, nil)
	g.run = func(context.Context, *ytdlp.Command, ...string) (string, string, error) {
		entries, err := os.ReadDir(g.opts.ArtifactDir)
		if err != nil {
			return "", "", err
		}
		require.Empty(t, entries)
		artifact = filepath.Join(g.opts.ArtifactDir, "file.webm")
		if err := os.WriteFile(artifact, []byte("audio"), 0o600); err != nil {
			return "", "", err
		}
		return "abc\tSong\tArtist\t180\thttps://www.youtube.com/watch?v=abc\t" + artifact + "\n", "", nil
	}

	track, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeDownload)
	require.NoError(t, err)
	assert.Equal(t, artifact, track.ArtifactPath)
	assert.Equal(t, artifact, track.PlayableRef)

	require.NoError(t, track.Dispose())
	_, err = os.Stat(artifact)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestGateway_DownloadFailureIsClassified(t *testing.T) {
	g := newTestGateway(t, func(context.Context, *ytdlp.Command, ...string) (string, string, error) {
		return "", "ERROR: unable to download video data", errors.New("exit status 1")
	})

	_, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeDownload)
	require.Error(t, err)
	assert.Equal(t, KindExtractionFailed, KindOf(err))
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"stem.webm", "stem.webm.part", "other.m4a"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	removeArtifacts(dir, "stem")

	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "other.m4a")}, matches)
}

func TestGateway_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(context.Context, *ytdlp.Command, ...string) (string, string, error) {
		calls.Add(1)
		return "", "ERROR: Unable to extract initial data", errors.New("exit status 1")
	})

	for i := 0; i < 2; i++ {
		_, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeStream)
		require.Error(t, err)
	}

	_, err := g.ResolveOne(context.Background(), "https://youtu.be/abc", ModeStream)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, KindExtractionFailed, KindOf(err))
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not call the resolver")
}

func TestGateway_ResolvePlaylist(t *testing.T) {
	var gotArgs []string
	g := newTestGateway(t, func(_ context.Context, _ *ytdlp.Command, args ...string) (string, string, error) {
		gotArgs = args
		return "Mix\tid1\tNA\tFirst\t100\t2\nMix\tid2\tNA\tSecond\t200\t2\n", "", nil
	})

	p, err := g.ResolvePlaylist(context.Background(), "https://www.youtube.com/playlist?list=PL1", 50)
	require.NoError(t, err)
	assert.Equal(t, "Mix", p.Title)
	assert.Len(t, p.Entries, 2)
	assert.Contains(t, gotArgs, "--yes-playlist")

	_, err = g.ResolvePlaylist(context.Background(), "https://youtu.be/abc", 50)
	assert.ErrorIs(t, err, ErrNotPlaylist)
}

func TestGateway_EmptyLocator(t *testing.T) {
	g := newTestGateway(t, nil)

	_, err := g.ResolveOne(context.Background(), "  ", ModeStream)
	assert.ErrorIs(t, err, ErrEmptyLocator)
}

func TestGateway_AbandonedCallIsNotCountedByBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGateway(t, func(context.Context, *ytdlp.Command, ...string) (string, string, error) {
		cancel()
		return "", "", errors.New("signal: killed")
	})

	_, err := g.ResolveOne(ctx, "https://youtu.be/abc", ModeStream)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, g.Breaker().State())
}
