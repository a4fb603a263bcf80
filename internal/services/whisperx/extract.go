package whisperx

// ExtractArgs builds the ffmpeg arguments that convert the first audio stream
// of source into a mono 16kHz PCM WAV at dest. Progress is written to stdout
// as key=value lines.
func ExtractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-nostdin",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-progress", "pipe:1",
		"-nostats",
		dest,
	}
}
