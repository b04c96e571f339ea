// Command audiorelayd runs the audiorelay HTTP daemon in the foreground.
//
// It is equivalent to `audiorelay serve` and exists for service managers that
// expect a dedicated daemon binary. The configuration path may be supplied via
// AUDIORELAY_CONFIG; otherwise the default lookup order applies.
package main

import (
	"context"
	"log"
	"os"
	"strings"

	"audiorelay/internal/config"
	"audiorelay/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(strings.TrimSpace(os.Getenv("AUDIORELAY_CONFIG")))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("audiorelayd: %v", err)
	}
}
