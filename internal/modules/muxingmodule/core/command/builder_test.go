package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	muxerrors "github.com/mantonx/muxpipe/internal/modules/muxingmodule/errors"
	"github.com/mantonx/muxpipe/internal/modules/muxingmodule/types"
)

type mapSession map[string]interface{}

func (m mapSession) Option(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func TestBuild_Defaults(t *testing.T) {
	cfg := Resolve(mapSession{}, types.MuxOptions{Maps: []string{"0", "1"}})
	args := Build("/usr/bin/ffmpeg", []string{"/tmp/p0", "/tmp/p1"}, cfg)

	assert.Equal(t, []string{
		"/usr/bin/ffmpeg", "-y", "-nostats", "-loglevel", "info",
		"-i", "/tmp/p0", "-i", "/tmp/p1",
		"-c:v", "copy", "-c:a", "copy",
		"-map", "0", "-map", "1",
		"-f", "matroska", "pipe:1",
	}, args)
	assert.NoError(t, Validate(args, 2))
}

func TestBuild_SubtitleMetadata(t *testing.T) {
	var md types.Metadata
	md.Set("s:s:0", "language=eng")

	cfg := Resolve(mapSession{}, types.MuxOptions{
		Maps:     []string{"0", "1", "2"},
		Metadata: md,
	})
	args := Build("ffmpeg", []string{"/tmp/v", "/tmp/a", "/tmp/s"}, cfg)

	assert.Equal(t, []string{
		"ffmpeg", "-y", "-nostats", "-loglevel", "info",
		"-i", "/tmp/v", "-i", "/tmp/a", "-i", "/tmp/s",
		"-c:v", "copy", "-c:a", "copy",
		"-map", "0", "-map", "1", "-map", "2",
		"-metadata:s:s:0", "language=eng",
		"-f", "matroska", "pipe:1",
	}, args)
	assert.NoError(t, Validate(args, 3))
}

func TestBuild_SessionOverrides(t *testing.T) {
	session := mapSession{
		types.OptFFmpegLogLevel:     "debug",
		types.OptFFmpegFormat:       "mpegts",
		types.OptFFmpegCopyTS:       true,
		types.OptFFmpegStartAtZero:  true,
		types.OptFFmpegVideoCodec:   "h264",
		types.OptFFmpegAudioCodec:   "",
		types.OptFFmpegVerbosePath:  "/tmp/ffmpeg.log",
		"some-unrelated-option-key": 42,
	}

	cfg := Resolve(session, types.MuxOptions{
		LogLevel: "error",
		Format:   "mp4",
		ACodec:   "aac",
		Maps:     []string{"0"},
	})
	args := Build("ffmpeg", []string{"/tmp/p0"}, cfg)

	assert.Equal(t, []string{
		"ffmpeg", "-y", "-nostats", "-loglevel", "debug",
		"-i", "/tmp/p0",
		"-c:v", "h264", "-c:a", "aac",
		"-map", "0",
		"-copyts", "-start_at_zero",
		"-f", "mpegts", "pipe:1",
	}, args)
}

func TestBuild_CopyTSPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		session    mapSession
		opts       types.MuxOptions
		wantCopyTS bool
		wantAtZero bool
	}{
		{
			name:       "per-call copyts",
			session:    mapSession{},
			opts:       types.MuxOptions{CopyTS: true},
			wantCopyTS: true,
		},
		{
			name:       "falsy session falls back to per-call",
			session:    mapSession{types.OptFFmpegCopyTS: false},
			opts:       types.MuxOptions{CopyTS: true, StartAtZero: true},
			wantCopyTS: true,
			wantAtZero: true,
		},
		{
			name:    "start_at_zero alone is dropped",
			session: mapSession{types.OptFFmpegStartAtZero: true},
			opts:    types.MuxOptions{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Resolve(tt.session, tt.opts)
			args := Build("ffmpeg", nil, cfg)

			assert.Equal(t, tt.wantCopyTS, contains(args, "-copyts"))
			assert.Equal(t, tt.wantAtZero, contains(args, "-start_at_zero"))
		})
	}
}

func TestBuild_OutputPath(t *testing.T) {
	cfg := Resolve(nil, types.MuxOptions{OutPath: "/srv/out.mkv"})
	args := Build("ffmpeg", []string{"/tmp/p0"}, cfg)
	assert.Equal(t, []string{"-f", "matroska", "/srv/out.mkv"}, args[len(args)-3:])
}

func TestBuild_PrefixIndependentOfOptions(t *testing.T) {
	optionSets := []types.MuxOptions{
		{},
		{LogLevel: "trace", Format: "webm", CopyTS: true},
		{Maps: []string{"0:v", "1:a"}, Metadata: types.Metadata{{Selector: "", Data: []string{"title=x"}}}},
	}

	for _, opts := range optionSets {
		args := Build("/bin/ffmpeg", []string{"/p0", "/p1"}, Resolve(nil, opts))
		require.GreaterOrEqual(t, len(args), 8)
		assert.Equal(t, []string{"/bin/ffmpeg", "-y", "-nostats", "-loglevel"}, args[:4])
		assert.Equal(t, []string{"-i", "/p0", "-i", "/p1"}, args[5:9])
	}
}

func TestResolve_DoesNotAliasCaller(t *testing.T) {
	var md types.Metadata
	md.Set("s:s:0", "language=eng")
	opts := types.MuxOptions{Maps: []string{"0"}, Metadata: md}

	cfg := Resolve(nil, opts)
	cfg.Maps[0] = "9"
	cfg.Metadata.Set("s:s:0", "language=fra")

	assert.Equal(t, "0", opts.Maps[0])
	data, _ := opts.Metadata.Get("s:s:0")
	assert.Equal(t, []string{"language=eng"}, data)
}

func TestValidate(t *testing.T) {
	good := Build("ffmpeg", []string{"/p0", "/p1"}, Resolve(nil, types.MuxOptions{Maps: []string{"0", "1:a:0"}}))
	require.NoError(t, Validate(good, 2))

	tests := []struct {
		name   string
		args   []string
		inputs int
	}{
		{"too short", []string{"ffmpeg", "-y"}, 0},
		{"input count mismatch", good, 3},
		{"map beyond inputs", Build("ffmpeg", []string{"/p0"}, Resolve(nil, types.MuxOptions{Maps: []string{"0", "1"}})), 1},
		{"missing output", good[:len(good)-1], 2},
		{"bad prefix", append([]string{"ffmpeg", "-n"}, good[2:]...), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.args, tt.inputs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, muxerrors.ErrInvalidCommand))
		})
	}
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
