package ytdlp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/mo"

	"audiorelay/internal/textutil"
)

// AcceptedExtensions lists the audio containers a download may produce.
var AcceptedExtensions = []string{"mp3", "m4a", "webm", "opus", "ogg"}

var errNoStreamURL = errors.New("no stream url in output")

// ParseStreamOutput returns the final non-empty line that starts with http.
// Earlier URL lines are superseded because yt-dlp prints one line per
// requested format and the audio format comes last.
func ParseStreamOutput(lines []string) mo.Result[string] {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "http") {
			return mo.Ok(line)
		}
	}
	return mo.Err[string](errNoStreamURL)
}

// Sidecar holds the fields read from the <id>.info.json file yt-dlp writes
// next to a download.
type Sidecar struct {
	Title    mo.Option[string]
	Duration mo.Option[time.Duration]
	Ext      string
}

type sidecarPayload struct {
	Title    string   `json:"title"`
	Duration *float64 `json:"duration"`
	Ext      string   `json:"ext"`
}

// ParseSidecar decodes an info sidecar. Missing or blank fields are reported
// as absent options rather than zero values.
func ParseSidecar(data []byte) (Sidecar, error) {
	var payload sidecarPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Sidecar{}, fmt.Errorf("decode info sidecar: %w", err)
	}
	sidecar := Sidecar{
		Title:    mo.None[string](),
		Duration: mo.None[time.Duration](),
		Ext:      strings.TrimSpace(payload.Ext),
	}
	if title := textutil.NormalizeTitle(payload.Title); title != "" {
		sidecar.Title = mo.Some(title)
	}
	if payload.Duration != nil && *payload.Duration > 0 && !math.IsInf(*payload.Duration, 0) {
		sidecar.Duration = mo.Some(time.Duration(math.Round(*payload.Duration * float64(time.Second))))
	}
	return sidecar, nil
}

// readSidecar loads <dir>/<id>.info.json if present.
func readSidecar(dir, id string) mo.Option[Sidecar] {
	data, err := os.ReadFile(filepath.Join(dir, id+".info.json"))
	if err != nil {
		return mo.None[Sidecar]()
	}
	sidecar, err := ParseSidecar(data)
	if err != nil {
		return mo.None[Sidecar]()
	}
	return mo.Some(sidecar)
}

// findOutputFile returns the first <dir>/<id>.<ext> that exists for an
// accepted extension, in AcceptedExtensions order.
func findOutputFile(dir, id string) (string, bool) {
	for _, ext := range AcceptedExtensions {
		path := filepath.Join(dir, id+"."+ext)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		return path, true
	}
	return "", false
}
