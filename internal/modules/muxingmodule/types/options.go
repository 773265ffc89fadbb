package types

// MuxOptions are the per-call muxer options. Session keys take precedence over
// every field here; zero values fall back to the built-in defaults.
type MuxOptions struct {
	LogLevel    string
	Format      string
	OutPath     string
	VCodec      string
	ACodec      string
	CopyTS      bool
	StartAtZero bool

	// Metadata entries are emitted in insertion order
	Metadata Metadata

	// Maps are passed verbatim as -map arguments. When empty the muxed stream
	// synthesizes one map per input.
	Maps []string

	// Subtitles are extra inputs appended after the audio/video substreams
	Subtitles []Subtitle
}

// Subtitle is a subtitle substream tagged with its language
type Subtitle struct {
	Language string
	Source   Source
}

// MetadataEntry is one -metadata[:selector] group
type MetadataEntry struct {
	// Selector is appended to -metadata as ":<selector>"; empty means global
	Selector string
	Data     []string
}

// Metadata is an insertion-ordered selector -> data list mapping
type Metadata []MetadataEntry

// Set replaces the data of an existing selector or appends a new entry
func (m *Metadata) Set(selector string, data ...string) {
	for i := range *m {
		if (*m)[i].Selector == selector {
			(*m)[i].Data = data
			return
		}
	}
	*m = append(*m, MetadataEntry{Selector: selector, Data: data})
}

// Get returns the data stored for selector
func (m Metadata) Get(selector string) ([]string, bool) {
	for _, e := range m {
		if e.Selector == selector {
			return e.Data, true
		}
	}
	return nil, false
}

// Clone returns a copy that can be modified without touching m
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for i, e := range m {
		out[i] = MetadataEntry{Selector: e.Selector, Data: append([]string(nil), e.Data...)}
	}
	return out
}

// Input is one slot of a stream bundle. A slot is either present with a
// Source or explicitly absent.
type Input struct {
	source Source
}

// Present wraps a source into a bundle slot
func Present(src Source) Input {
	return Input{source: src}
}

// Absent returns an empty bundle slot
func Absent() Input {
	return Input{}
}

// Source returns the slot's source and whether the slot is present
func (i Input) Source() (Source, bool) {
	return i.source, i.source != nil
}
