package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveFFmpeg reports the ffmpeg binary yt-dlp will use for audio
// conversion.
//
// An explicitly configured binary wins. Otherwise an ffmpeg sitting next to
// the yt-dlp executable is preferred (the layout of the standalone yt-dlp
// release bundles), falling back to "ffmpeg" on PATH.
func ResolveFFmpeg(ytdlpCommand, configured string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Used by yt-dlp to convert downloaded audio",
		Optional:    true,
	}

	if configured = strings.TrimSpace(configured); configured != "" && configured != "ffmpeg" {
		result.Command = configured
		if resolved, err := exec.LookPath(configured); err == nil {
			result.Command = resolved
			result.Available = true
			return result
		}
		result.Detail = fmt.Sprintf("binary %q not found", configured)
		return result
	}

	if ytdlp := strings.TrimSpace(ytdlpCommand); ytdlp != "" {
		if resolved, err := exec.LookPath(ytdlp); err == nil {
			candidate := filepath.Join(filepath.Dir(resolved), executableName("ffmpeg"))
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	if ffmpegPath, err := exec.LookPath("ffmpeg"); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}

	result.Command = "ffmpeg"
	result.Detail = `binary "ffmpeg" not found`
	return result
}

func executableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
