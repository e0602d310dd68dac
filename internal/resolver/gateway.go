package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/models"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

	// tab separated so titles containing spaces survive
	streamTemplate   = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(url)s"
	downloadTemplate = "after_move:%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(filepath)s"
	playlistTemplate = "%(playlist_title)s\t%(id)s\t%(url)s\t%(title)s\t%(duration)s\t%(playlist_count)s"
)

// Options configures a Gateway
type Options struct {
	ArtifactDir      string
	Proxy            string
	Timeout          time.Duration
	Workers          int
	RateLimit        float64
	RateBurst        int
	CircuitThreshold int
	CircuitReset     time.Duration
}

// runFunc executes a prepared yt-dlp command and returns its captured output
type runFunc func(ctx context.Context, cmd *ytdlp.Command, args ...string) (stdout, stderr string, err error)

// searchFunc returns the video id of the best match for a free-text query
type searchFunc func(ctx context.Context, query string) (videoID string, err error)

// Gateway resolves locators through yt-dlp. Outbound calls are rate limited,
// bounded by a worker pool and guarded by a circuit breaker.
type Gateway struct {
	opts    Options
	limiter *rate.Limiter
	workers *semaphore.Weighted
	breaker *Breaker
	run     runFunc
	search  searchFunc
}

// NewGateway creates a yt-dlp backed resolver
func NewGateway(opts Options) *Gateway {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 1
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	threshold := opts.CircuitThreshold
	if threshold < 1 {
		threshold = 5
	}

	return &Gateway{
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.RateBurst),
		workers: semaphore.NewWeighted(int64(opts.Workers)),
		breaker: NewBreaker(threshold, opts.CircuitReset),
		run:     runYtdlp,
		search:  searchYouTube,
	}
}

// Breaker exposes the gateway's circuit breaker for health reporting
func (g *Gateway) Breaker() *Breaker {
	return g.breaker
}

// ResolveOne resolves a URL or search query into a playable track
func (g *Gateway) ResolveOne(ctx context.Context, locator string, mode Mode) (*models.Track, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrEmptyLocator
	}

	target := locator
	if !IsURL(locator) {
		target = g.searchTarget(ctx, locator)
	}

	var track *models.Track
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		if mode == ModeDownload {
			track, err = g.download(ctx, locator, target)
		} else {
			track, err = g.stream(ctx, locator, target)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Debug().
		Str("locator", locator).
		Str("title", track.Title).
		Str("mode", mode.String()).
		Dur("duration", track.Duration).
		Msg("Locator resolved")

	return track, nil
}

// ResolvePlaylist enumerates up to limit entries of a playlist without resolving them
func (g *Gateway) ResolvePlaylist(ctx context.Context, locator string, limit int) (*Playlist, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrEmptyLocator
	}
	if !IsPlaylist(locator) {
		return nil, ErrNotPlaylist
	}
	if limit < 1 {
		limit = 1
	}

	var playlist *Playlist
	err := g.call(ctx, func(ctx context.Context) error {
		cmd := g.newCommand().
			FlatPlaylist().
			Print(playlistTemplate).
			PlaylistItems(fmt.Sprintf("1-%d", limit))

		stdout, stderr, err := g.run(ctx, cmd, locator, "--yes-playlist")
		if err != nil {
			return ClassifyError(locator, stderr, err)
		}
		playlist = parsePlaylistOutput(stdout)
		if len(playlist.Entries) == 0 {
			return NewResolveError(KindUnavailable, locator, "playlist has no entries", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Debug().
		Str("locator", locator).
		Str("playlist_title", playlist.Title).
		Int("entries", len(playlist.Entries)).
		Int("total", playlist.Total).
		Msg("Playlist enumerated")

	return playlist, nil
}

// call runs fn under the breaker, rate limiter, worker pool and per-call timeout
func (g *Gateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.breaker.Allow(); err != nil {
		return NewResolveError(KindExtractionFailed, "", "resolver temporarily disabled after repeated failures", err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if err := g.workers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire resolver worker: %w", err)
	}
	defer g.workers.Release(1)

	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("resolution abandoned: %w", ctx.Err())
	}
	g.breaker.Record(err)
	return err
}

func (g *Gateway) newCommand() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		NoCheckCertificates()
	if g.opts.Proxy != "" {
		cmd.Proxy(g.opts.Proxy)
	}
	return cmd
}

func (g *Gateway) stream(ctx context.Context, locator, target string) (*models.Track, error) {
	cmd := g.newCommand().
		NoPlaylist().
		PreferFreeFormats().
		Format(audioFormat).
		Print(streamTemplate)

	stdout, stderr, err := g.run(ctx, cmd, "--skip-download", target)
	if err != nil {
		return nil, ClassifyError(locator, stderr, err)
	}

	meta, ok := parseTrackOutput(stdout)
	if !ok {
		return nil, NewResolveError(KindExtractionFailed, locator, "unexpected resolver output", nil)
	}

	track := models.NewTrack(meta.title, meta.uploader, sourceFor(locator, meta), meta.ref, meta.duration)
	return track, nil
}

func (g *Gateway) download(ctx context.Context, locator, target string) (*models.Track, error) {
	if err := os.MkdirAll(g.opts.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	stem := uuid.NewString()
	cmd := g.newCommand().
		NoPlaylist().
		NoPart().
		NoSimulate().
		PreferFreeFormats().
		Format(audioFormat).
		Output(filepath.Join(g.opts.ArtifactDir, stem+".%(ext)s")).
		Print(downloadTemplate)

	stdout, stderr, err := g.run(ctx, cmd, target)
	if err != nil {
		removeArtifacts(g.opts.ArtifactDir, stem)
		return nil, ClassifyError(locator, stderr, err)
	}

	meta, ok := parseTrackOutput(stdout)
	if !ok {
		removeArtifacts(g.opts.ArtifactDir, stem)
		return nil, NewResolveError(KindExtractionFailed, locator, "unexpected resolver output", nil)
	}

	// caller gave up while the download finished; nobody will own this file
	if ctx.Err() != nil {
		removeArtifacts(g.opts.ArtifactDir, stem)
		return nil, ctx.Err()
	}

	track := models.NewTrack(meta.title, meta.uploader, sourceFor(locator, meta), meta.ref, meta.duration)
	track.ArtifactPath = meta.ref
	return track, nil
}

// searchTarget turns a free-text query into something yt-dlp can resolve.
// Falls back to yt-dlp's own search when the native search fails.
func (g *Gateway) searchTarget(ctx context.Context, query string) string {
	videoID, err := g.search(ctx, query)
	if err == nil && videoID != "" {
		return WatchURL(videoID)
	}

	logger.Log.Debug().
		Err(err).
		Str("query", query).
		Msg("Native search returned nothing, using yt-dlp search")

	return "ytsearch1:" + query
}

func runYtdlp(ctx context.Context, cmd *ytdlp.Command, args ...string) (string, string, error) {
	res, err := cmd.Run(ctx, args...)
	if res == nil {
		return "", "", err
	}
	return res.Stdout, res.Stderr, err
}

func searchYouTube(ctx context.Context, query string) (string, error) {
	client := ytsearch.NewClient(nil)
	res, err := client.Search(ctx, query)
	if err != nil {
		return "", err
	}
	for _, r := range res.Results {
		if r.VideoID != "" {
			return r.VideoID, nil
		}
	}
	return "", ErrNoResults
}

type trackMeta struct {
	title    string
	uploader string
	duration time.Duration
	pageURL  string
	ref      string
}

// parseTrackOutput reads the first well-formed line printed with streamTemplate or downloadTemplate
func parseTrackOutput(stdout string) (trackMeta, bool) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(parts) < 6 {
			continue
		}
		ref := strings.TrimSpace(parts[5])
		if ref == "" || ref == "NA" {
			continue
		}
		return trackMeta{
			title:    orDefault(parts[1], parts[0]),
			uploader: orDefault(parts[2], ""),
			duration: parseSeconds(parts[3]),
			pageURL:  orDefault(parts[4], ""),
			ref:      ref,
		}, true
	}
	return trackMeta{}, false
}

// parsePlaylistOutput reads lines printed with playlistTemplate
func parsePlaylistOutput(stdout string) *Playlist {
	playlist := &Playlist{}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(parts) < 5 {
			continue
		}
		if playlist.Title == "" {
			playlist.Title = orDefault(parts[0], "")
		}
		if playlist.Total == 0 && len(parts) >= 6 {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[5])); err == nil {
				playlist.Total = n
			}
		}

		id := orDefault(parts[1], "")
		entryURL := orDefault(parts[2], "")
		if entryURL == "" && id != "" {
			entryURL = WatchURL(id)
		}
		if entryURL == "" {
			continue
		}

		playlist.Entries = append(playlist.Entries, Entry{
			ID:       id,
			URL:      entryURL,
			Title:    orDefault(parts[3], ""),
			Duration: parseSeconds(parts[4]),
		})
	}
	if playlist.Title == "" {
		playlist.Title = "playlist"
	}
	if playlist.Total < len(playlist.Entries) {
		playlist.Total = len(playlist.Entries)
	}
	return playlist
}

// parseSeconds parses yt-dlp's duration field; "NA" and garbage mean unknown
func parseSeconds(s string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// sourceFor keeps URL locators as given and replaces search text with the page that matched
func sourceFor(locator string, meta trackMeta) string {
	if IsURL(locator) || meta.pageURL == "" {
		return locator
	}
	return meta.pageURL
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" {
		return def
	}
	return s
}

// removeArtifacts deletes every file written for a download stem
func removeArtifacts(dir, stem string) {
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Log.Warn().
				Err(err).
				Str("path", m).
				Msg("Failed to remove partial artifact")
		}
	}
}
