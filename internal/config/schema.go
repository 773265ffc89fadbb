package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// configSchema constrains enumerated and ranged values. Empty tool options
// mean "unset".
const configSchema = `
ffmpeg: {
	loglevel: "" | "quiet" | "panic" | "fatal" | "error" | "warning" | "info" | "verbose" | "debug" | "trace"
	fout: string
	video_transcode: string
	audio_transcode: string
	probe_timeout_ms: int & >=0
}
stream: {
	timeout_ms: int & >=0
}
server: {
	port: int & >=1 & <=65535
}
database: {
	type: "sqlite" | "postgres"
}
logging: {
	level: "trace" | "debug" | "info" | "warn" | "error" | "off"
	format: "text" | "json"
}
`

func schemaView(config *Config) map[string]interface{} {
	return map[string]interface{}{
		"ffmpeg": map[string]interface{}{
			"loglevel":         config.FFmpeg.LogLevel,
			"fout":             config.FFmpeg.Format,
			"video_transcode":  config.FFmpeg.VideoCodec,
			"audio_transcode":  config.FFmpeg.AudioCodec,
			"probe_timeout_ms": config.FFmpeg.ProbeTimeout.Milliseconds(),
		},
		"stream": map[string]interface{}{
			"timeout_ms": config.Stream.Timeout.Milliseconds(),
		},
		"server": map[string]interface{}{
			"port": config.Server.Port,
		},
		"database": map[string]interface{}{
			"type": config.Database.Type,
		},
		"logging": map[string]interface{}{
			"level":  config.Logging.Level,
			"format": config.Logging.Format,
		},
	}
}

func validateSchema(config *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchema)
	if schema.Err() != nil {
		return fmt.Errorf("error compiling config schema: %v", schema.Err())
	}

	value := schema.Unify(ctx.Encode(schemaView(config)))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config does not match schema: %v", err)
	}

	return nil
}
