package ytdlp

import (
	"path/filepath"
	"strings"

	"audiorelay/internal/config"
)

// Mode selects whether yt-dlp only resolves a stream URL or writes a file.
type Mode string

const (
	ModeStream   Mode = config.ModeStream
	ModeDownload Mode = config.ModeDownload
)

// Profile is one client identity variant passed to yt-dlp.
type Profile struct {
	Name         string
	Format       string
	PlayerClient string
	UserAgent    string
	ExtraArgs    []string
}

// ProfilesFromConfig converts configured client profiles.
func ProfilesFromConfig(profiles []config.ClientProfile) []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Profile{
			Name:         p.Name,
			Format:       p.Format,
			PlayerClient: p.PlayerClient,
			UserAgent:    p.UserAgent,
			ExtraArgs:    append([]string(nil), p.ExtraArgs...),
		})
	}
	return out
}

func (p Profile) args() []string {
	args := make([]string, 0, 8+len(p.ExtraArgs))
	format := p.Format
	if format == "" {
		format = "bestaudio/best"
	}
	args = append(args, "-f", format)
	if p.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+p.PlayerClient)
	}
	if p.UserAgent != "" {
		args = append(args, "--user-agent", p.UserAgent)
	}
	return append(args, p.ExtraArgs...)
}

func (c *Client) streamArgs(profile Profile, sourceURL string) []string {
	args := []string{"--no-playlist", "--no-warnings", "--no-progress"}
	args = append(args, profile.args()...)
	return append(args, "--get-url", sourceURL)
}

func (c *Client) downloadArgs(profile Profile, sourceURL, dir, id string) []string {
	args := []string{"--no-playlist", "--no-warnings", "--newline", "--no-part"}
	args = append(args, profile.args()...)
	args = append(args,
		"-x",
		"--audio-format", c.audioFormat,
		"--audio-quality", "0",
		"--write-info-json",
		"-o", filepath.Join(dir, id+".%(ext)s"),
	)
	if strings.ContainsRune(c.ffmpeg, filepath.Separator) {
		args = append(args, "--ffmpeg-location", c.ffmpeg)
	}
	return append(args, sourceURL)
}
