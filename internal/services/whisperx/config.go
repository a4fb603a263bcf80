package whisperx

// Config captures runtime settings for WhisperX operations.
type Config struct {
	Binary string
	// Model is a WhisperX model name such as "large-v3-turbo".
	Model       string
	CUDAEnabled bool
}

const (
	DefaultBinary = "whisperx"
	DefaultModel  = "large-v3"
)

// decodeArgs are passed on every run.
var decodeArgs = []string{
	"--batch_size", "4",
	"--chunk_size", "15",
	"--beam_size", "5",
	"--segment_resolution", "sentence",
	"--vad_method", "silero",
	"--output_format", "json",
	"--print_progress", "True",
}

func deviceArgs(cuda bool) []string {
	if cuda {
		return []string{"--device", "cuda"}
	}
	return []string{"--device", "cpu", "--compute_type", "float32"}
}
