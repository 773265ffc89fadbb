package types

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSession map[string]interface{}

func (m mapSession) Option(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"empty string", "", false},
		{"string", "info", true},
		{"zero int", 0, false},
		{"int", 3, true},
		{"zero float", 0.0, false},
		{"float", 1.5, true},
		{"empty slice", []string{}, false},
		{"slice", []string{"a"}, true},
		{"duration", time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.value))
		})
	}
}

func TestSessionAccessors(t *testing.T) {
	s := mapSession{
		OptFFmpegLogLevel:     "debug",
		OptFFmpegFormat:       "",
		OptFFmpegCopyTS:       true,
		OptFFmpegStartAtZero:  false,
		OptFFmpegNoValidation: 1,
	}

	v, ok := SessionString(s, OptFFmpegLogLevel)
	assert.True(t, ok)
	assert.Equal(t, "debug", v)

	_, ok = SessionString(s, OptFFmpegFormat)
	assert.False(t, ok, "empty strings are unset")

	_, ok = SessionString(s, "unknown-key")
	assert.False(t, ok)

	assert.True(t, SessionBool(s, OptFFmpegCopyTS))
	assert.False(t, SessionBool(s, OptFFmpegStartAtZero))
	assert.True(t, SessionBool(s, OptFFmpegNoValidation))
	assert.False(t, SessionBool(nil, OptFFmpegCopyTS))
}

func TestSessionDuration(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  time.Duration
	}{
		{"duration", 5 * time.Second, 5 * time.Second},
		{"int seconds", 3, 3 * time.Second},
		{"float seconds", 0.5, 500 * time.Millisecond},
		{"duration string", "250ms", 250 * time.Millisecond},
		{"numeric string", "2", 2 * time.Second},
		{"garbage", "soon", DefaultStreamTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mapSession{OptStreamTimeout: tt.value}
			assert.Equal(t, tt.want, SessionDuration(s, OptStreamTimeout, DefaultStreamTimeout))
		})
	}

	assert.Equal(t, DefaultStreamTimeout, SessionDuration(mapSession{}, OptStreamTimeout, DefaultStreamTimeout))
}

func TestMetadataOrdering(t *testing.T) {
	var md Metadata
	md.Set("s:s:1", "language=fra")
	md.Set("s:s:0", "language=eng")
	md.Set("", "title=Show")
	md.Set("s:s:1", "language=deu")

	require.Len(t, md, 3)
	assert.Equal(t, "s:s:1", md[0].Selector)
	assert.Equal(t, []string{"language=deu"}, md[0].Data)
	assert.Equal(t, "s:s:0", md[1].Selector)

	data, ok := md.Get("")
	assert.True(t, ok)
	assert.Equal(t, []string{"title=Show"}, data)

	clone := md.Clone()
	clone.Set("s:s:0", "language=spa")
	data, _ = md.Get("s:s:0")
	assert.Equal(t, []string{"language=eng"}, data)
}

func TestInputPresence(t *testing.T) {
	src := ReaderSource{Reader: strings.NewReader("x")}

	got, ok := Present(src).Source()
	assert.True(t, ok)
	assert.Equal(t, src, got)

	_, ok = Absent().Source()
	assert.False(t, ok)
}

func TestReaderSubstream(t *testing.T) {
	s := NewReaderSubstream(io.NopCloser(strings.NewReader("hello")))

	buf := make([]byte, 3)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))
	assert.False(t, s.Closed())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	n, err = s.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}

func TestOptionsStore(t *testing.T) {
	src := map[string]interface{}{OptFFmpegLogLevel: "warning"}
	opts := NewOptions(src)
	src[OptFFmpegLogLevel] = "debug"

	v, ok := opts.Option(OptFFmpegLogLevel)
	require.True(t, ok)
	assert.Equal(t, "warning", v, "store copies its input")

	opts.Set(OptFFmpegCopyTS, true)
	assert.True(t, SessionBool(opts, OptFFmpegCopyTS))

	snap := opts.Snapshot()
	opts.Replace(map[string]interface{}{OptFFmpegFormat: "mp4"})

	_, ok = opts.Option(OptFFmpegLogLevel)
	assert.False(t, ok)
	assert.Len(t, snap, 2)

	var nilOpts *Options
	_, ok = nilOpts.Option(OptFFmpegFormat)
	assert.False(t, ok)
}
