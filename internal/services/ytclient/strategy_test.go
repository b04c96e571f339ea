package ytclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"

	"audiorelay/internal/extraction"
	"audiorelay/internal/services"
	"audiorelay/internal/services/ytclient"
	"audiorelay/internal/videoref"
)

type fakeSource struct {
	video     *youtube.Video
	videoErr  error
	streamErr error
	gotID     string
	gotItag   int
}

func (f *fakeSource) GetVideoContext(ctx context.Context, id string) (*youtube.Video, error) {
	f.gotID = id
	if f.videoErr != nil {
		return nil, f.videoErr
	}
	return f.video, nil
}

func (f *fakeSource) GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error) {
	if f.streamErr != nil {
		return "", f.streamErr
	}
	f.gotItag = format.ItagNo
	return "https://rr1.googlevideo.test/videoplayback?itag=" + format.MimeType, nil
}

func testRef(t *testing.T) videoref.Reference {
	t.Helper()
	ref, err := videoref.Parse("https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	return ref
}

var sampleFormats = youtube.FormatList{
	{ItagNo: 18, MimeType: "video/mp4", AudioChannels: 2, Width: 640, Height: 360, Bitrate: 500000},
	{ItagNo: 140, MimeType: "audio/mp4; codecs=\"mp4a.40.2\"", AudioChannels: 2, AverageBitrate: 129000},
	{ItagNo: 251, MimeType: "audio/webm; codecs=\"opus\"", AudioChannels: 2, AverageBitrate: 135000},
	{ItagNo: 249, MimeType: "audio/webm; codecs=\"opus\"", AudioChannels: 2, AverageBitrate: 50000},
}

func TestAttemptSelectsBestAudioFormat(t *testing.T) {
	source := &fakeSource{video: &youtube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Duration: 213 * time.Second,
		Formats:  sampleFormats,
	}}
	strategy := ytclient.New(nil, time.Second, ytclient.WithSource(source))

	result, err := strategy.Attempt(context.Background(), testRef(t))
	if err != nil {
		t.Fatalf("Attempt returned error: %v", err)
	}
	if source.gotID != "dQw4w9WgXcQ" || source.gotItag != 251 {
		t.Fatalf("unexpected selection id=%q itag=%d", source.gotID, source.gotItag)
	}
	if !result.IsDirectStream || result.Strategy != ytclient.Name {
		t.Fatalf("unexpected result: %+v", result)
	}
	if title := result.Title.OrEmpty(); title != "Never Gonna Give You Up" {
		t.Fatalf("unexpected title %q", title)
	}
	if d := result.Duration.OrEmpty(); d != 213*time.Second {
		t.Fatalf("unexpected duration %v", d)
	}
}

func TestBestAudioFormatPrefersMP4OnTie(t *testing.T) {
	formats := youtube.FormatList{
		{ItagNo: 251, MimeType: "audio/webm", AudioChannels: 2, Bitrate: 128000},
		{ItagNo: 140, MimeType: "audio/mp4", AudioChannels: 2, Bitrate: 128000},
	}
	best, ok := ytclient.BestAudioFormat(formats).Get()
	if !ok || best.ItagNo != 140 {
		t.Fatalf("expected itag 140, got %+v", best)
	}
}

func TestAttemptFailsWithoutAudioFormats(t *testing.T) {
	source := &fakeSource{video: &youtube.Video{Formats: sampleFormats[:1]}}
	strategy := ytclient.New(nil, time.Second, ytclient.WithSource(source))

	_, err := strategy.Attempt(context.Background(), testRef(t))
	if !errors.Is(err, extraction.ErrStrategyFailed) || services.FailureKind(err) != "not_found" {
		t.Fatalf("expected not_found strategy failure, got %v", err)
	}
}

func TestAttemptClassifiesPlayerErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		kind string
	}{
		"private":  {err: youtube.ErrVideoPrivate, kind: "not_found"},
		"login":    {err: youtube.ErrLoginRequired, kind: "not_found"},
		"upstream": {err: errors.New("unexpected status code: 403"), kind: "upstream"},
		"deadline": {err: context.DeadlineExceeded, kind: "timeout"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			strategy := ytclient.New(nil, time.Second, ytclient.WithSource(&fakeSource{videoErr: tc.err}))
			_, err := strategy.Attempt(context.Background(), testRef(t))
			if got := services.FailureKind(err); got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
}

func TestAttemptFailsWhenStreamURLCannotBeDeciphered(t *testing.T) {
	source := &fakeSource{
		video:     &youtube.Video{Formats: sampleFormats},
		streamErr: youtube.ErrCipherNotFound,
	}
	strategy := ytclient.New(nil, time.Second, ytclient.WithSource(source))
	if _, err := strategy.Attempt(context.Background(), testRef(t)); !errors.Is(err, extraction.ErrStrategyFailed) {
		t.Fatalf("expected strategy failure, got %v", err)
	}
}
