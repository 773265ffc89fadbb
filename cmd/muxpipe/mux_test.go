package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/muxpipe/internal/config"
)

func TestMuxFlags_Request(t *testing.T) {
	tests := []struct {
		name    string
		flags   muxFlags
		args    []string
		check   func(t *testing.T, f muxFlags, args []string)
		wantErr bool
	}{
		{
			name: "absent slot",
			args: []string{"video.h264", "-", "audio.aac"},
			check: func(t *testing.T, f muxFlags, args []string) {
				req, err := f.request(args)
				require.NoError(t, err)
				assert.Equal(t, []string{"video.h264", "", "audio.aac"}, req.Inputs)
			},
		},
		{
			name:  "subtitles and metadata",
			flags: muxFlags{subtitles: []string{"eng=a.srt"}, metadata: []string{"title=Movie", "s:a:0@language=fra"}},
			args:  []string{"video.h264"},
			check: func(t *testing.T, f muxFlags, args []string) {
				req, err := f.request(args)
				require.NoError(t, err)
				require.Len(t, req.Subtitles, 1)
				assert.Equal(t, "eng", req.Subtitles[0].Language)
				assert.Equal(t, "a.srt", req.Subtitles[0].Path)
				assert.Equal(t, []string{"title=Movie"}, req.Metadata[""])
				assert.Equal(t, []string{"language=fra"}, req.Metadata["s:a:0"])
			},
		},
		{name: "subtitle without language", flags: muxFlags{subtitles: []string{"a.srt"}}, args: []string{"v"}, wantErr: true},
		{name: "metadata without value", flags: muxFlags{metadata: []string{"s:a:0@language"}}, args: []string{"v"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr {
				_, err := tt.flags.request(tt.args)
				assert.Error(t, err)
				return
			}
			tt.check(t, tt.flags, tt.args)
		})
	}
}

func TestRunMux_WritesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires named pipes and shell scripts")
	}

	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\nwhile [ $# -gt 0 ]; do\n  if [ \"$1\" = \"-i\" ]; then shift; cat \"$1\"; fi\n  shift\ndone\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	video := filepath.Join(dir, "video.bin")
	audio := filepath.Join(dir, "audio.bin")
	require.NoError(t, os.WriteFile(video, []byte("V"), 0o644))
	require.NoError(t, os.WriteFile(audio, []byte("A"), 0o644))

	t.Setenv("MUXPIPE_FFMPEG_PATH", bin)
	t.Setenv("MUXPIPE_FFMPEG_NO_VALIDATION", "true")
	t.Setenv("MUXPIPE_PIPE_DIR", dir)
	require.NoError(t, config.Load(""))

	f := muxFlags{}
	req, err := f.request([]string{video, absentInput, audio})
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, runMux(context.Background(), req, "", &stdout))
	assert.Equal(t, "VA", stdout.String())

	out := filepath.Join(dir, "out.mkv")
	require.NoError(t, runMux(context.Background(), req, out, &stdout))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "VA", string(data))
}

func TestRunMux_RejectedRequestLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MUXPIPE_FFMPEG_PATH", filepath.Join(dir, "fake-ffmpeg"))
	t.Setenv("MUXPIPE_FFMPEG_NO_VALIDATION", "true")
	require.NoError(t, config.Load(""))

	out := filepath.Join(dir, "out.mkv")
	req, err := muxFlags{}.request([]string{filepath.Join(dir, "missing.h264")})
	require.NoError(t, err)

	require.Error(t, runMux(context.Background(), req, out, &bytes.Buffer{}))
	assert.NoFileExists(t, out)
}

func TestRootCommand_MissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "probe"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
