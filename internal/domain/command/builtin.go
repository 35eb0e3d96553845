package command

import "fmt"

// Builtins returns the registry of built-in presets.
func Builtins() *Registry {
	return NewRegistry(
		extractAudio(),
		convertVideo(),
		createThumbnail(),
		createGIF(),
		compressVideo(),
		trimVideo(),
	)
}

func extractAudio() Definition {
	return Definition{
		Name:        "extract-audio",
		Description: "Extract audio from a video file to MP3",
		Options: []Option{
			{Name: "quality", Description: "Audio quality (low, medium, high)", Type: "string", Default: "medium"},
			{Name: "format", Description: "Output format (mp3, wav, aac)", Type: "string", Default: "mp3"},
		},
		Transform: func(a Args) string {
			codec, ext := "libmp3lame", "mp3"
			switch a.Options.String("format", "mp3") {
			case "wav":
				codec, ext = "pcm_s16le", "wav"
			case "aac":
				codec, ext = "aac", "aac"
			}
			bitrate := tier(a.Options.String("quality", ""), "192k", "96k", "128k")
			return render("ffmpeg -i", a.Input, "-vn -acodec", codec, "-b:a", bitrate, a.Out(ext))
		},
	}
}

func convertVideo() Definition {
	return Definition{
		Name:        "convert-video",
		Description: "Convert video to different format",
		Options: []Option{
			{Name: "format", Description: "Output format (mp4, mov, webm)", Type: "string", Default: "mp4"},
			{Name: "quality", Description: "Video quality (low, medium, high)", Type: "string", Default: "medium"},
			{Name: "resolution", Description: "Output resolution (e.g., 1280x720)", Type: "string"},
		},
		Transform: func(a Args) string {
			format := a.Options.String("format", "mp4")
			crf := tier(a.Options.String("quality", ""), "18", "28", "23")
			scale := ""
			if res := a.Options.String("resolution", ""); res != "" {
				scale = "-vf scale=" + res
			}
			switch format {
			case "mp4", "mov":
				return render("ffmpeg -i", a.Input, "-c:v libx264 -crf", crf, scale,
					"-preset medium -c:a aac -b:a 128k", a.Out(format))
			case "webm":
				return render("ffmpeg -i", a.Input, "-c:v libvpx-vp9 -crf", crf, scale,
					"-b:v 0 -c:a libopus", a.Out("webm"))
			}
			return render("ffmpeg -i", a.Input, scale, a.Out(format))
		},
	}
}

func createThumbnail() Definition {
	return Definition{
		Name:        "create-thumbnail",
		Description: "Create a thumbnail from a video",
		Options: []Option{
			{Name: "time", Description: "Time position (e.g., 00:01:23)", Type: "string", Default: "00:00:01"},
			{Name: "resolution", Description: "Output resolution (e.g., 640x360)", Type: "string", Default: "640x360"},
		},
		Transform: func(a Args) string {
			return render("ffmpeg -i", a.Input,
				"-ss", a.Options.String("time", "00:00:01"),
				"-vframes 1 -vf scale="+a.Options.String("resolution", "640x360"),
				a.Out("jpg"))
		},
	}
}

func createGIF() Definition {
	return Definition{
		Name:        "create-gif",
		Description: "Create an animated GIF from a video",
		Options: []Option{
			{Name: "start", Description: "Start time (e.g., 00:01:23)", Type: "string", Default: "00:00:00"},
			{Name: "duration", Description: "Duration in seconds", Type: "number", Default: 5},
			{Name: "fps", Description: "Frames per second", Type: "number", Default: 10},
			{Name: "width", Description: "Width in pixels (height auto)", Type: "number", Default: 320},
		},
		Transform: func(a Args) string {
			filter := fmt.Sprintf(`"fps=%s,scale=%s:-1:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse"`,
				a.Options.String("fps", "10"), a.Options.String("width", "320"))
			return render("ffmpeg -i", a.Input,
				"-ss", a.Options.String("start", "00:00:00"),
				"-t", a.Options.String("duration", "5"),
				"-vf", filter, a.Out("gif"))
		},
	}
}

func compressVideo() Definition {
	return Definition{
		Name:        "compress-video",
		Description: "Compress a video to reduce file size while maintaining acceptable quality",
		Options: []Option{
			{Name: "level", Description: "Compression level (light, medium, heavy)", Type: "string", Default: "medium"},
			{Name: "keep-resolution", Description: "Maintain original resolution", Type: "boolean", Default: true},
			{Name: "codec", Description: "Video codec (h264, h265, vp9)", Type: "string", Default: "h264"},
			{Name: "format", Description: "Output format (mp4, webm)", Type: "string", Default: "mp4"},
		},
		Transform: func(a Args) string {
			crf, preset := "28", "medium"
			switch a.Options.String("level", "medium") {
			case "light":
				crf = "23"
			case "heavy":
				crf, preset = "32", "slow"
			}
			scale := ""
			if !a.Options.Bool("keep-resolution", true) {
				scale = `-vf "scale=trunc(oh*a/2)*2:720"`
			}
			format := a.Options.String("format", "mp4")
			switch a.Options.String("codec", "h264") {
			case "h265":
				return render("ffmpeg -i", a.Input, scale, "-c:v libx265 -crf", crf, "-preset", preset,
					"-c:a aac -b:a 96k", a.Out(notWebM(format)))
			case "vp9":
				if format == "mp4" {
					format = "webm"
				}
				return render("ffmpeg -i", a.Input, scale, "-c:v libvpx-vp9 -crf", crf,
					"-b:v 0 -c:a libopus -b:a 96k", a.Out(format))
			}
			return render("ffmpeg -i", a.Input, scale, "-c:v libx264 -crf", crf, "-preset", preset,
				"-c:a aac -b:a 96k", a.Out(notWebM(format)))
		},
	}
}

// notWebM maps webm to mp4 for codecs that cannot be muxed into WebM.
func notWebM(format string) string {
	if format == "webm" {
		return "mp4"
	}
	return format
}

func trimVideo() Definition {
	return Definition{
		Name:        "trim-video",
		Description: "Extract a segment from a video file",
		Options: []Option{
			{Name: "start", Description: "Start time (format: HH:MM:SS)", Type: "string", Default: "00:00:00"},
			{Name: "end", Description: "End time (format: HH:MM:SS)", Type: "string", Default: ""},
			{Name: "duration", Description: "Duration in seconds (alternative to end time)", Type: "number", Default: 0},
			{Name: "quality", Description: "Output quality (low, medium, high, copy)", Type: "string", Default: "copy"},
			{Name: "format", Description: "Output format (mp4, mov, webm)", Type: "string", Default: "mp4"},
		},
		Transform: func(a Args) string {
			format := a.Options.String("format", "mp4")

			// duration wins over end when both are given
			span := ""
			if d := a.Options.Number("duration", 0); d > 0 {
				span = "-t " + formatNumber(d)
			} else if end := a.Options.String("end", ""); end != "" {
				span = "-to " + end
			}

			var video, audio, extra string
			quality := a.Options.String("quality", "copy")
			if quality == "copy" {
				video, audio = "-c:v copy", "-c:a copy"
			} else {
				switch format {
				case "mp4":
					video, audio = "-c:v libx264", "-c:a aac -b:a 128k"
					extra = "-crf " + tier(quality, "18", "28", "23") + " -preset medium"
				case "mov":
					video, audio = "-c:v prores", "-c:a pcm_s16le"
					extra = "-profile:v " + tier(quality, "3", "0", "2")
				case "webm":
					video, audio = "-c:v libvpx-vp9", "-c:a libopus"
					extra = "-crf " + tier(quality, "18", "30", "24") + " -b:v 0"
				}
			}
			return render("ffmpeg -ss", a.Options.String("start", "00:00:00"), "-i", a.Input,
				span, video, extra, audio, a.Out(format))
		},
	}
}
