package remoteapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"audiorelay/internal/textutil"
)

// Mapped is what a service response yields after mapping.
type Mapped struct {
	AudioURL mo.Option[string]
	Title    mo.Option[string]
	Duration mo.Option[time.Duration]
}

// Mapper decodes one service's response body.
type Mapper func(body []byte) (Mapped, error)

// MapperFor returns the mapper registered under name.
func MapperFor(name string) (Mapper, error) {
	switch name {
	case "vevioz":
		return mapVevioz, nil
	case "rapidapi":
		return mapRapidAPI, nil
	case "generic", "":
		return mapGeneric, nil
	default:
		return nil, fmt.Errorf("unknown response mapper %q", name)
	}
}

type veviozResponse struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func mapVevioz(body []byte) (Mapped, error) {
	var payload veviozResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Mapped{}, fmt.Errorf("decode vevioz response: %w", err)
	}
	return Mapped{
		AudioURL: nonEmpty(payload.URL),
		Title:    nonEmpty(textutil.NormalizeTitle(payload.Title)),
	}, nil
}

// rapidAPIResponse is the youtube-mp36 payload. Status is "ok", "processing",
// or "fail"; only "ok" carries a usable link.
type rapidAPIResponse struct {
	Link     string          `json:"link"`
	Title    string          `json:"title"`
	Duration json.RawMessage `json:"duration"`
	Status   string          `json:"status"`
	Msg      string          `json:"msg"`
}

func mapRapidAPI(body []byte) (Mapped, error) {
	var payload rapidAPIResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Mapped{}, fmt.Errorf("decode rapidapi response: %w", err)
	}
	if status := strings.ToLower(strings.TrimSpace(payload.Status)); status != "" && status != "ok" {
		return Mapped{}, fmt.Errorf("rapidapi status %q: %s", payload.Status, payload.Msg)
	}
	return Mapped{
		AudioURL: nonEmpty(payload.Link),
		Title:    nonEmpty(textutil.NormalizeTitle(payload.Title)),
		Duration: parseSeconds(payload.Duration),
	}, nil
}

var genericURLKeys = []string{"link", "url", "downloadUrl", "download_url", "audioUrl"}

func mapGeneric(body []byte) (Mapped, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return Mapped{}, fmt.Errorf("decode response: %w", err)
	}
	mapped := Mapped{AudioURL: mo.None[string](), Title: mo.None[string]()}
	for _, key := range genericURLKeys {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			mapped.AudioURL = mo.Some(strings.TrimSpace(value))
			break
		}
	}
	if title, ok := payload["title"].(string); ok {
		mapped.Title = nonEmpty(textutil.NormalizeTitle(title))
	}
	return mapped, nil
}

func nonEmpty(value string) mo.Option[string] {
	if value = strings.TrimSpace(value); value == "" {
		return mo.None[string]()
	}
	return mo.Some(value)
}

// parseSeconds accepts a JSON number or numeric string.
func parseSeconds(raw json.RawMessage) mo.Option[time.Duration] {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return mo.None[time.Duration]()
	}
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil || seconds <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(seconds * float64(time.Second)))
}
