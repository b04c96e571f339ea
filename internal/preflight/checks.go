package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"audiorelay/internal/config"
	"audiorelay/internal/deps"
	"audiorelay/internal/httpx"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckExtractor folds the yt-dlp dependency status into a single result.
func CheckExtractor(cfg *config.Config) Result {
	const name = "yt-dlp"
	for _, status := range CheckSystemDeps(cfg) {
		if status.Name != name {
			continue
		}
		if status.Available {
			return Result{Name: name, Passed: true, Detail: status.Command}
		}
		return Result{Name: name, Detail: status.Detail + " (subprocess strategy will be skipped)"}
	}
	return Result{Name: name, Passed: true, Detail: "Disabled"}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the health endpoint and the CLI status command use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil || !cfg.Extractor.Enabled {
		return nil
	}
	statuses := deps.CheckBinaries([]deps.Requirement{{
		Name:        "yt-dlp",
		Command:     cfg.Extractor.Binary,
		Description: "Required for the subprocess extraction strategy",
	}})
	ffmpeg := deps.ResolveFFmpeg(cfg.Extractor.Binary, cfg.Extractor.FFmpegBinary)
	if cfg.Extractor.Mode == config.ModeDownload {
		ffmpeg.Optional = false
		ffmpeg.Description = "Required to convert downloads to " + cfg.Extractor.AudioFormat
	}
	return append(statuses, ffmpeg)
}

// CheckRedis verifies the stream-cache redis server answers PING.
func CheckRedis(ctx context.Context, sc config.StreamCache) Result {
	const name = "Redis"

	if strings.TrimSpace(sc.RedisAddr) == "" {
		return Result{Name: name, Passed: true, Detail: "Not configured (memory backend)"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	defer client.Close()

	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s); memory backend will be used", sc.RedisAddr, summarizeNetError(err))}
	}
	return Result{Name: name, Passed: true, Detail: sc.RedisAddr + " reachable"}
}

// CheckRemoteService verifies a conversion service host answers HTTP.
// Any HTTP response counts as reachable; the endpoint itself is not called
// so no quota is spent.
func CheckRemoteService(ctx context.Context, svc config.RemoteService) Result {
	name := "Remote " + svc.Name

	if !svc.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if !svc.Ready() {
		return Result{Name: name, Detail: "Missing credentials (service will be skipped)"}
	}

	endpoint, err := url.Parse(strings.ReplaceAll(svc.Endpoint, "{id}", "x"))
	if err != nil || endpoint.Host == "" {
		return Result{Name: name, Detail: "invalid endpoint"}
	}
	root := endpoint.Scheme + "://" + endpoint.Host + "/"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, root, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	req.Header.Set("User-Agent", httpx.UserAgent)

	resp, err := httpx.NewClient(5 * time.Second).Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%s)", summarizeNetError(err))}
	}
	defer resp.Body.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("Reachable (%d)", resp.StatusCode)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}
