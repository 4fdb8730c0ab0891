package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpsp-bot/internal/storage"
)

type call struct {
	name string
	args []string
}

// fakeRunner records invocations. Programs write their output file unless
// fail returns an error for the call.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	stdout map[string]string
	fail   func(c call) error
	size   int
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	c := call{name: name, args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(c); err != nil {
			return nil, err
		}
	}
	switch name {
	case "yt-dlp":
		if i := slices.Index(args, "-o"); i >= 0 {
			if err := os.WriteFile(args[i+1], make([]byte, f.size), 0644); err != nil {
				return nil, err
			}
		}
	case "ffmpeg":
		if err := os.WriteFile(args[len(args)-1], make([]byte, f.size), 0644); err != nil {
			return nil, err
		}
	}
	return []byte(f.stdout[name]), nil
}

func (f *fakeRunner) callsTo(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestPipeline(t *testing.T, r Runner, opts Options) (*Pipeline, storage.Store) {
	t.Helper()
	store, err := storage.NewStore(storage.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	return New(r, store, opts, log), store
}

func writeArtifact(t *testing.T, store storage.Store, size int) Artifact {
	t.Helper()
	p := store.NewPath(".mp4")
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0644))
	return Artifact{Path: p}
}

func argAfter(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestFetchDirectSuccess(t *testing.T) {
	r := &fakeRunner{size: 10}
	p, _ := newTestPipeline(t, r, Options{Proxies: []string{"socks5://proxy1"}})

	got := p.Fetch(context.Background(), "https://example.com/v", 50*megabyte)
	a, ok := got.Get()
	require.True(t, ok)
	assert.FileExists(t, a.Path)

	calls := r.callsTo("yt-dlp")
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].args, "--proxy")
	assert.Equal(t, "https://example.com/v", calls[0].args[len(calls[0].args)-1])

	format, _ := argAfter(calls[0].args, "-f")
	assert.Contains(t, format, "filesize<=50M")
	assert.Contains(t, format, "height<=720")
}

func TestFetchTriesProxiesInOrder(t *testing.T) {
	r := &fakeRunner{size: 10}
	r.fail = func(c call) error {
		if proxy, ok := argAfter(c.args, "--proxy"); !ok || proxy == "socks5://first" {
			return &ProcessError{Program: c.name, Err: errors.New("exit status 1")}
		}
		return nil
	}
	p, _ := newTestPipeline(t, r, Options{Proxies: []string{"socks5://first", "socks5://second", "socks5://third"}})

	_, ok := p.Fetch(context.Background(), "https://example.com/v", 8*megabyte).Get()
	require.True(t, ok)

	calls := r.callsTo("yt-dlp")
	require.Len(t, calls, 3)
	var proxies []string
	for _, c := range calls {
		proxy, _ := argAfter(c.args, "--proxy")
		proxies = append(proxies, proxy)
	}
	assert.Equal(t, []string{"", "socks5://first", "socks5://second"}, proxies)
}

func TestFetchAllAttemptsFail(t *testing.T) {
	r := &fakeRunner{fail: func(c call) error {
		return &ProcessError{Program: c.name, Err: errors.New("exit status 1")}
	}}
	p, store := newTestPipeline(t, r, Options{Proxies: []string{"socks5://only"}})

	got := p.Fetch(context.Background(), `ytsearch:"kissa"`, 8*megabyte)
	assert.True(t, got.IsAbsent())
	assert.Len(t, r.callsTo("yt-dlp"), 2)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchStopsWhenCancelled(t *testing.T) {
	r := &fakeRunner{}
	p, _ := newTestPipeline(t, r, Options{Proxies: []string{"socks5://a"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, p.Fetch(ctx, "https://example.com/v", megabyte).IsAbsent())
	assert.Empty(t, r.callsTo("yt-dlp"))
}

func TestProbeDimensions(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		w, h    int
		wantErr bool
	}{
		{name: "plain", stdout: "1280x720\n", w: 1280, h: 720},
		{name: "padded", stdout: "  640x360  ", w: 640, h: 360},
		{name: "empty", stdout: "", wantErr: true},
		{name: "garbage", stdout: "N/A", wantErr: true},
		{name: "bad height", stdout: "1280xabc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{stdout: map[string]string{"ffprobe": tt.stdout}}
			p, store := newTestPipeline(t, r, Options{})
			a := writeArtifact(t, store, 1)

			w, h, err := p.ProbeDimensions(context.Background(), a)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.w, w)
			assert.Equal(t, tt.h, h)
		})
	}
}

func TestProbeDimensionsProcessError(t *testing.T) {
	r := &fakeRunner{fail: func(c call) error {
		return &ProcessError{Program: c.name, Err: errors.New("exit status 1")}
	}}
	p, store := newTestPipeline(t, r, Options{})

	_, _, err := p.ProbeDimensions(context.Background(), writeArtifact(t, store, 1))
	assert.ErrorIs(t, err, ErrProcess)
}

func TestTruncateWithinSoftLimitIsIdentity(t *testing.T) {
	r := &fakeRunner{}
	p, store := newTestPipeline(t, r, Options{})
	a := writeArtifact(t, store, 100)

	got, ok := p.Truncate(context.Background(), a, 100, 200).Get()
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Empty(t, r.callsTo("ffmpeg"))
}

func TestTruncateOverSoftLimitTranscodes(t *testing.T) {
	r := &fakeRunner{size: 50}
	p, store := newTestPipeline(t, r, Options{})
	a := writeArtifact(t, store, 101)

	got, ok := p.Truncate(context.Background(), a, 100, 200).Get()
	require.True(t, ok)
	assert.NotEqual(t, a.Path, got.Path)
	assert.FileExists(t, a.Path)

	calls := r.callsTo("ffmpeg")
	require.Len(t, calls, 1)
	fs, _ := argAfter(calls[0].args, "-fs")
	assert.Equal(t, "200", fs)
	in, _ := argAfter(calls[0].args, "-i")
	assert.Equal(t, a.Path, in)
}

func TestTruncateTranscoderNotStarted(t *testing.T) {
	r := &fakeRunner{fail: func(c call) error {
		return &ProcessError{Program: c.name, Err: &exec.Error{Name: c.name, Err: exec.ErrNotFound}}
	}}
	p, store := newTestPipeline(t, r, Options{})
	a := writeArtifact(t, store, 300)

	assert.True(t, p.Truncate(context.Background(), a, 100, 200).IsAbsent())
	assert.True(t, p.Truncate(context.Background(), Artifact{Path: filepath.Join(store.Dir(), "missing.mp4")}, 100, 200).IsAbsent())
}

func TestTruncateTranscoderExitedNonZero(t *testing.T) {
	tests := []struct {
		name         string
		writeOutput  bool
		wantOriginal bool
	}{
		{name: "partial output is kept", writeOutput: true},
		{name: "no output keeps the original", wantOriginal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{fail: func(c call) error {
				if tt.writeOutput {
					require.NoError(t, os.WriteFile(c.args[len(c.args)-1], make([]byte, 10), 0644))
				}
				return &ProcessError{Program: c.name, Err: &exec.ExitError{}}
			}}
			p, store := newTestPipeline(t, r, Options{})
			a := writeArtifact(t, store, 300)

			got, ok := p.Truncate(context.Background(), a, 100, 200).Get()
			require.True(t, ok)
			if tt.wantOriginal {
				assert.Equal(t, a, got)
				entries, err := os.ReadDir(store.Dir())
				require.NoError(t, err)
				assert.Len(t, entries, 1)
				return
			}
			calls := r.callsTo("ffmpeg")
			require.Len(t, calls, 1)
			assert.Equal(t, calls[0].args[len(calls[0].args)-1], got.Path)
			assert.FileExists(t, got.Path)
		})
	}
}

func TestTruncateWithRealProcessExitingNonZero(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script transcoder")
	}
	script := filepath.Join(t.TempDir(), "ffmpeg")
	body := "#!/bin/sh\nfor last; do :; done\nprintf 0123456789 > \"$last\"\nexit 1\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	p, store := newTestPipeline(t, ExecRunner{}, Options{FFmpeg: script})
	a := writeArtifact(t, store, 300)

	got, ok := p.Truncate(context.Background(), a, 100, 200).Get()
	require.True(t, ok)
	assert.NotEqual(t, a.Path, got.Path)
	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	p, store = newTestPipeline(t, ExecRunner{}, Options{FFmpeg: missing})
	assert.True(t, p.Truncate(context.Background(), writeArtifact(t, store, 300), 100, 200).IsAbsent())
}

func TestEnsureH264(t *testing.T) {
	tests := []struct {
		name       string
		codec      string
		probeFails bool
		encodeFail bool
		wantEncode bool
		wantSame   bool
	}{
		{name: "already h264", codec: "h264\n", wantSame: true},
		{name: "vp9 is re-encoded", codec: "vp9\n", wantEncode: true},
		{name: "unknown codec is re-encoded", probeFails: true, wantEncode: true},
		{name: "failed re-encode keeps original", codec: "av1", encodeFail: true, wantEncode: true, wantSame: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{
				size:   10,
				stdout: map[string]string{"ffprobe": tt.codec},
				fail: func(c call) error {
					if (c.name == "ffprobe" && tt.probeFails) || (c.name == "ffmpeg" && tt.encodeFail) {
						return &ProcessError{Program: c.name, Err: &exec.ExitError{}}
					}
					return nil
				},
			}
			p, store := newTestPipeline(t, r, Options{})
			a := writeArtifact(t, store, 100)

			got := p.EnsureH264(context.Background(), a)

			calls := r.callsTo("ffmpeg")
			if tt.wantEncode {
				require.Len(t, calls, 1)
				codec, _ := argAfter(calls[0].args, "-c:v")
				assert.Equal(t, "libx264", codec)
			} else {
				assert.Empty(t, calls)
			}
			if tt.wantSame {
				assert.Equal(t, a, got)
				entries, err := os.ReadDir(store.Dir())
				require.NoError(t, err)
				assert.Len(t, entries, 1)
			} else {
				assert.NotEqual(t, a.Path, got.Path)
				assert.FileExists(t, got.Path)
				assert.FileExists(t, a.Path)
			}
		})
	}
}

func TestCut(t *testing.T) {
	tests := []struct {
		name     string
		spec     CutSpec
		duration string
		wantSS   string
		wantT    string
	}{
		{name: "from start with duration", spec: CutSpec{Start: 0, Duration: mo.Some(5.0)}, wantT: "5.000"},
		{name: "offset to end", spec: CutSpec{Start: 90}, wantSS: "90.000"},
		{name: "last ten seconds", spec: CutSpec{Start: -10}, duration: "60.0\n", wantSS: "50.000"},
		{name: "negative start clamps to zero", spec: CutSpec{Start: -120, Duration: mo.Some(3.5)}, duration: "60.0", wantT: "3.500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{size: 1, stdout: map[string]string{"ffprobe": tt.duration}}
			p, store := newTestPipeline(t, r, Options{})
			a := writeArtifact(t, store, 10)

			got, ok := p.Cut(context.Background(), a, tt.spec).Get()
			require.True(t, ok)
			assert.NotEqual(t, a.Path, got.Path)

			calls := r.callsTo("ffmpeg")
			require.Len(t, calls, 1)
			ss, hasSS := argAfter(calls[0].args, "-ss")
			assert.Equal(t, tt.wantSS != "", hasSS)
			assert.Equal(t, tt.wantSS, ss)
			dur, hasT := argAfter(calls[0].args, "-t")
			assert.Equal(t, tt.wantT != "", hasT)
			assert.Equal(t, tt.wantT, dur)
		})
	}
}

func TestCutUnknownDuration(t *testing.T) {
	r := &fakeRunner{stdout: map[string]string{"ffprobe": "N/A"}}
	p, store := newTestPipeline(t, r, Options{})

	got := p.Cut(context.Background(), writeArtifact(t, store, 10), CutSpec{Start: -5})
	assert.True(t, got.IsAbsent())
	assert.Empty(t, r.callsTo("ffmpeg"))
}

type recordingObserver struct {
	mu       sync.Mutex
	programs []string
	failures int
}

func (o *recordingObserver) ObserveProcess(program string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.programs = append(o.programs, program)
	if err != nil {
		o.failures++
	}
}

func TestObserverSeesEveryInvocation(t *testing.T) {
	obs := &recordingObserver{}
	r := &fakeRunner{
		size:   1,
		stdout: map[string]string{"ffprobe": "12.5"},
		fail: func(c call) error {
			if c.name == "yt-dlp" && !slices.Contains(c.args, "--proxy") {
				return errors.New("blocked")
			}
			return nil
		},
	}
	p, _ := newTestPipeline(t, r, Options{Proxies: []string{"http://p"}, Observer: obs})

	a, ok := p.Fetch(context.Background(), "https://example.com/v", megabyte).Get()
	require.True(t, ok)
	_, ok = p.Cut(context.Background(), a, CutSpec{Start: -2}).Get()
	require.True(t, ok)

	assert.Equal(t, []string{"yt-dlp", "yt-dlp", "ffprobe", "ffmpeg"}, obs.programs)
	assert.Equal(t, 1, obs.failures)
}

func TestRemove(t *testing.T) {
	p, store := newTestPipeline(t, &fakeRunner{}, Options{})
	a := writeArtifact(t, store, 1)

	p.Remove(a)
	assert.NoFileExists(t, a.Path)
	p.Remove(a)
}

func TestProgramNamesFromOptions(t *testing.T) {
	r := &fakeRunner{stdout: map[string]string{"/opt/ffprobe": "1x1"}}
	p, store := newTestPipeline(t, r, Options{FFprobe: "/opt/ffprobe"})

	_, _, err := p.ProbeDimensions(context.Background(), writeArtifact(t, store, 1))
	require.NoError(t, err)
	calls := r.callsTo("/opt/ffprobe")
	require.Len(t, calls, 1)
	assert.True(t, strings.HasSuffix(calls[0].args[len(calls[0].args)-1], ".mp4"))
}
