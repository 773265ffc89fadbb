package types

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"
)

// Session option keys consumed by the muxing pipeline
const (
	OptFFmpegBinary       = "ffmpeg-ffmpeg"
	OptFFmpegNoValidation = "ffmpeg-no-validation"
	OptFFmpegLogLevel     = "ffmpeg-loglevel"
	OptFFmpegFormat       = "ffmpeg-fout"
	OptFFmpegVideoCodec   = "ffmpeg-video-transcode"
	OptFFmpegAudioCodec   = "ffmpeg-audio-transcode"
	OptFFmpegCopyTS       = "ffmpeg-copyts"
	OptFFmpegStartAtZero  = "ffmpeg-start-at-zero"
	OptFFmpegVerbose      = "ffmpeg-verbose"
	OptFFmpegVerbosePath  = "ffmpeg-verbose-path"
	OptStreamTimeout      = "stream-timeout"
)

const (
	// DefaultStreamTimeout is the stream-timeout of the default configuration
	DefaultStreamTimeout = 60 * time.Second

	// CopyChunkSize is the read size used by pipe copiers
	CopyChunkSize = 8192
)

// Truthy reports whether an option value counts as set: non-nil, non-zero,
// non-empty.
func Truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case time.Duration:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

// SessionString returns the option as a string when it is set and truthy
func SessionString(s Session, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Option(key)
	if !ok || !Truthy(v) {
		return "", false
	}
	if str, isStr := v.(string); isStr {
		return str, true
	}
	return fmt.Sprint(v), true
}

// SessionBool returns the truthiness of an option; unset keys are false
func SessionBool(s Session, key string) bool {
	if s == nil {
		return false
	}
	v, ok := s.Option(key)
	return ok && Truthy(v)
}

// SessionDuration reads a duration option. Plain numbers are seconds.
func SessionDuration(s Session, key string, fallback time.Duration) time.Duration {
	if s == nil {
		return fallback
	}
	v, ok := s.Option(key)
	if !ok || v == nil {
		return fallback
	}

	switch val := v.(type) {
	case time.Duration:
		return val
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case float64:
		return time.Duration(val * float64(time.Second))
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}

// Options is a concurrency-safe Session backed by a map
type Options struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewOptions creates a store holding a copy of values
func NewOptions(values map[string]interface{}) *Options {
	o := &Options{values: make(map[string]interface{}, len(values))}
	for k, v := range values {
		o.values[k] = v
	}
	return o
}

// Option implements Session
func (o *Options) Option(key string) (interface{}, bool) {
	if o == nil {
		return nil, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[key]
	return v, ok
}

// Set stores a single option
func (o *Options) Set(key string, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[key] = value
}

// Replace swaps the whole option set
func (o *Options) Replace(values map[string]interface{}) {
	next := make(map[string]interface{}, len(values))
	for k, v := range values {
		next[k] = v
	}
	o.mu.Lock()
	o.values = next
	o.mu.Unlock()
}

// Snapshot returns a copy of the current options
func (o *Options) Snapshot() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]interface{}, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}
