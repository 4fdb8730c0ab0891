// Package media wraps the external downloader, inspector and transcoder.
// Every operation writes to a fresh path and never modifies its input.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus"

	"gpsp-bot/internal/storage"
)

const megabyte = 1024 * 1024

// Artifact is a local video file owned by the workflow that created it.
type Artifact struct {
	Path string
}

// CutSpec is a trim request. A negative Start counts from the end of the
// video; an absent Duration cuts to the end.
type CutSpec struct {
	Start    float64
	Duration mo.Option[float64]
}

// Observer receives timing for every program invocation.
type Observer interface {
	ObserveProcess(program string, elapsed time.Duration, err error)
}

// Options configures the program names and download policy.
type Options struct {
	YtDlp         string
	FFmpeg        string
	FFprobe       string
	MaxResolution int
	MaxDownload   string
	// Proxies are tried in order after a direct attempt.
	Proxies  []string
	Observer Observer
}

// Pipeline runs media operations through a Runner.
type Pipeline struct {
	runner Runner
	store  storage.Store
	opts   Options
	log    logrus.FieldLogger
}

// New creates a Pipeline. Zero option fields get the usual program names.
func New(runner Runner, store storage.Store, opts Options, log logrus.FieldLogger) *Pipeline {
	if opts.YtDlp == "" {
		opts.YtDlp = "yt-dlp"
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	if opts.MaxResolution == 0 {
		opts.MaxResolution = 720
	}
	if opts.MaxDownload == "" {
		opts.MaxDownload = "500M"
	}
	return &Pipeline{runner: runner, store: store, opts: opts, log: log}
}

func (p *Pipeline) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := p.runner.Run(ctx, name, args...)
	if p.opts.Observer != nil {
		p.opts.Observer.ObserveProcess(name, time.Since(start), err)
	}
	return out, err
}

// Fetch downloads source, a URL or a site search string such as
// ytsearch:"query", preferring files within budget bytes. A direct attempt
// is made first, then each proxy in order.
func (p *Pipeline) Fetch(ctx context.Context, source string, budget int64) mo.Option[Artifact] {
	path := p.store.NewPath(".mp4")
	attempts := append([]string{""}, p.opts.Proxies...)

	for _, proxy := range attempts {
		if ctx.Err() != nil {
			break
		}
		log := p.log.WithField("proxy", proxyLabel(proxy))
		log.Info("Downloading")

		_, err := p.run(ctx, p.opts.YtDlp, p.fetchArgs(source, path, proxy, budget)...)
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return mo.Some(Artifact{Path: path})
			}
			log.Warn("Downloader exited cleanly but produced no file")
			continue
		}
		log.WithError(err).Warn("Download attempt failed")
		p.discard(path)
	}

	p.log.WithField("source", source).Info("Downloading failed")
	p.discard(path)
	return mo.None[Artifact]()
}

func proxyLabel(proxy string) string {
	if proxy == "" {
		return "none"
	}
	return proxy
}

func (p *Pipeline) fetchArgs(source, path, proxy string, budget int64) []string {
	mb := budget / megabyte
	if mb < 1 {
		mb = 1
	}
	h := p.opts.MaxResolution
	format := fmt.Sprintf(
		"((bv*[filesize<=%[1]dM]/bv*)[height<=%[2]d]/(wv*[filesize<=%[1]dM]/wv*)) + ba / (b[filesize<=%[1]dM]/b)[height<=%[2]d]/(w[filesize<=%[1]dM]/w)",
		mb, h,
	)
	args := []string{
		"-f", format,
		"-S", "codec:h264,+size",
		"--merge-output-format", "mp4",
		"--recode", "mp4",
		"--max-filesize", p.opts.MaxDownload,
		"--no-playlist",
		"-o", path,
		source,
	}
	if proxy != "" {
		args = append([]string{"--proxy", proxy}, args...)
	}
	return args
}

// ProbeDimensions reads the first video stream's width and height.
func (p *Pipeline) ProbeDimensions(ctx context.Context, a Artifact) (int, int, error) {
	out, err := p.run(ctx, p.opts.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0:s=x",
		a.Path,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("probe dimensions of %s: %w", a.Path, err)
	}
	return parseDimensions(string(out))
}

func parseDimensions(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: expected WIDTHxHEIGHT, got %q", ErrMalformedOutput, s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid width %q", ErrMalformedOutput, parts[0])
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid height %q", ErrMalformedOutput, parts[1])
	}
	return w, h, nil
}

// Duration reads the container duration in seconds.
func (p *Pipeline) Duration(ctx context.Context, a Artifact) (float64, error) {
	out, err := p.run(ctx, p.opts.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		a.Path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration of %s: %w", a.Path, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || math.IsNaN(d) || d < 0 {
		return 0, fmt.Errorf("%w: invalid duration %q", ErrMalformedOutput, strings.TrimSpace(string(out)))
	}
	return d, nil
}

// Truncate returns a unchanged when it fits in soft bytes. Otherwise it
// transcodes into a new artifact capped at hard bytes. A transcoder that ran
// but exited non-zero still yields its output when any was written, else a.
// Only a transcoder that could not be started yields None.
func (p *Pipeline) Truncate(ctx context.Context, a Artifact, soft, hard int64) mo.Option[Artifact] {
	info, err := os.Stat(a.Path)
	if err != nil {
		p.log.WithError(err).Warn("Cannot stat artifact for truncation")
		return mo.None[Artifact]()
	}
	if info.Size() <= soft {
		return mo.Some(a)
	}

	p.log.WithFields(logrus.Fields{"size": info.Size(), "soft": soft, "hard": hard}).Info("Big file, reducing file size")

	out := p.store.NewPath(".mp4")
	_, err = p.run(ctx, p.opts.FFmpeg,
		"-y",
		"-i", a.Path,
		"-fs", strconv.FormatInt(hard, 10),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
		out,
	)
	if err != nil {
		if !exited(err) {
			p.log.WithError(err).Warn("Truncation failed")
			p.discard(out)
			return mo.None[Artifact]()
		}
		if info, statErr := os.Stat(out); statErr == nil && info.Size() > 0 {
			p.log.WithError(err).Warn("Transcoder exited with an error, keeping its partial output")
			return mo.Some(Artifact{Path: out})
		}
		p.log.WithError(err).Warn("Transcoder exited with an error and no output, keeping the original")
		p.discard(out)
		return mo.Some(a)
	}
	return mo.Some(Artifact{Path: out})
}

// exited reports whether err comes from a program that started and then
// exited unsuccessfully.
func exited(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// VideoCodec reads the codec name of the first video stream.
func (p *Pipeline) VideoCodec(ctx context.Context, a Artifact) (string, error) {
	out, err := p.run(ctx, p.opts.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		a.Path,
	)
	if err != nil {
		return "", fmt.Errorf("probe codec of %s: %w", a.Path, err)
	}
	codec := strings.TrimSpace(string(out))
	if codec == "" {
		return "", fmt.Errorf("%w: no video stream codec", ErrMalformedOutput)
	}
	return codec, nil
}

// EnsureH264 returns a when its video is already H.264 and otherwise
// re-encodes it into a new artifact. When re-encoding fails a is returned.
func (p *Pipeline) EnsureH264(ctx context.Context, a Artifact) Artifact {
	codec, err := p.VideoCodec(ctx, a)
	if err == nil && codec == "h264" {
		return a
	}
	log := p.log.WithField("codec", codec)
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("Re-encoding to H.264")

	out := p.store.NewPath(".mp4")
	_, err = p.run(ctx, p.opts.FFmpeg,
		"-y",
		"-i", a.Path,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	)
	if err != nil {
		p.log.WithError(err).Warn("Re-encoding failed, keeping the original")
		p.discard(out)
		return a
	}
	return Artifact{Path: out}
}

// Cut trims a per spec into a new artifact. A start further before the end
// than the video is long is clamped to the beginning.
func (p *Pipeline) Cut(ctx context.Context, a Artifact, spec CutSpec) mo.Option[Artifact] {
	start := spec.Start
	if start < 0 {
		total, err := p.Duration(ctx, a)
		if err != nil {
			p.log.WithError(err).Warn("Cannot resolve cut start relative to end")
			return mo.None[Artifact]()
		}
		start = math.Max(0, total+start)
	}

	args := []string{"-y"}
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	args = append(args, "-i", a.Path)
	if d, ok := spec.Duration.Get(); ok && d > 0 {
		args = append(args, "-t", formatSeconds(d))
	}
	out := p.store.NewPath(".mp4")
	args = append(args,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		out,
	)

	if _, err := p.run(ctx, p.opts.FFmpeg, args...); err != nil {
		p.log.WithError(err).Warn("Cut failed")
		p.discard(out)
		return mo.None[Artifact]()
	}
	return mo.Some(Artifact{Path: out})
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// Remove deletes an artifact created by this pipeline.
func (p *Pipeline) Remove(a Artifact) {
	p.discard(a.Path)
}

func (p *Pipeline) discard(path string) {
	if err := p.store.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.log.WithError(err).WithField("path", path).Warn("Failed to remove artifact")
	}
}
