package command

import "math"

// AITools locates the external binaries used by AI pipelines.
type AITools struct {
	WhisperBin   string
	WhisperModel string
}

// AICommands returns the registry of /ai-* pipelines.
func AICommands(tools AITools) *Registry {
	return NewRegistry(
		transcribe(tools),
		subtitle(tools),
		slowMotion(),
		fpsBoost(),
	)
}

// extractSpeech renders a mono 16 kHz wav next to the outputs, the input
// format whisper expects.
func extractSpeech(input string) string {
	return render("ffmpeg -i", input, "-vn -ar 16000 -ac 1 -c:a pcm_s16le speech.wav")
}

func whisperFormat(format string) string {
	switch format {
	case "srt", "vtt":
		return format
	}
	return "txt"
}

func transcribe(t AITools) Definition {
	return Definition{
		Name:        "transcribe",
		Description: "Transcribe audio from a video or audio file to text",
		Options: []Option{
			{Name: "language", Description: "Source language (auto for automatic detection)", Type: "string", Default: "auto"},
			{Name: "format", Description: "Output format (txt, srt, vtt)", Type: "string", Default: "txt"},
		},
		Transform: func(a Args) string {
			format := whisperFormat(a.Options.String("format", "txt"))
			stem := a.Output
			if stem == "" {
				stem = "transcription"
			}
			return render(extractSpeech(a.Input), "&&",
				t.WhisperBin, "-m", t.WhisperModel, "-f speech.wav",
				"-l", a.Options.String("language", "auto"),
				"-o"+format, "-of", stem,
				"&& rm -f speech.wav")
		},
	}
}

func subtitle(t AITools) Definition {
	return Definition{
		Name:        "subtitle",
		Description: "Transcribe and apply subtitles to a video file",
		Options: []Option{
			{Name: "language", Description: "Source language (auto for automatic detection)", Type: "string", Default: "auto"},
			{Name: "format", Description: "Output format (mp4, mov, webm)", Type: "string", Default: "mp4"},
		},
		Transform: func(a Args) string {
			format := a.Options.String("format", "mp4")
			audio := "-c:a copy"
			if format == "webm" {
				audio = "-c:a libopus"
			}
			return render(extractSpeech(a.Input), "&&",
				t.WhisperBin, "-m", t.WhisperModel, "-f speech.wav",
				"-l", a.Options.String("language", "auto"),
				"-osrt -of subs &&",
				"ffmpeg -i", a.Input, "-vf subtitles=subs.srt", audio, a.Out(format),
				"&& rm -f speech.wav subs.srt")
		},
	}
}

func slowMotion() Definition {
	return Definition{
		Name:        "slowmotion",
		Description: "Create a slow motion version of a video",
		Options: []Option{
			{Name: "speed", Description: "Speed factor (0.1 to 0.5, where 0.5 is half speed)", Type: "number", Default: 0.5},
		},
		Transform: func(a Args) string {
			speed := clamp(a.Options.Number("speed", 0.5), 0.1, 1)
			factor := math.Round(1/speed*1000) / 1000
			return render("ffmpeg -i", a.Input,
				`-filter:v "setpts=`+formatNumber(factor)+`*PTS"`, "-an", a.Out("mp4"))
		},
	}
}

func fpsBoost() Definition {
	return Definition{
		Name:        "fpsboost",
		Description: "Increase the frame rate of a video",
		Options: []Option{
			{Name: "factor", Description: "Frame rate increase factor (2 for double the fps)", Type: "number", Default: 2},
			{Name: "base", Description: "Assumed source frame rate", Type: "number", Default: 30},
		},
		Transform: func(a Args) string {
			factor := clamp(a.Options.Number("factor", 2), 1, 8)
			target := math.Round(a.Options.Number("base", 30) * factor)
			return render("ffmpeg -i", a.Input,
				`-filter:v "minterpolate=mi_mode=mci:fps=`+formatNumber(target)+`"`,
				"-c:a copy", a.Out("mp4"))
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
