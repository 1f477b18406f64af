package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/orchestral"
)

// embedded_logger: performer stdout/stderr land in <performer_dir>/<name>.stdout.log
// and <name>.stderr.log while the supervisor log goes through its own handler.
func main() {
	logDir := os.Getenv("ORCHESTRAL_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), fmt.Sprintf("orchestral-logs-%d", time.Now().UnixNano()))
	}

	cfg := orchestral.DefaultConfig()
	cfg.Environment = "demo"
	cfg.Program = "echo"
	cfg.Log.File.Dir = logDir
	cfg.Log.Slog.Color = true
	cfg.Log.Slog.Level = "debug"
	cfg.Performances = map[string]map[string]orchestral.Performance{
		"demo": {"greeter": {Command: "hello"}},
	}

	ctx := context.Background()
	o, err := orchestral.Open(ctx, cfg, orchestral.Options{Store: orchestral.NewMemoryStore()})
	if err != nil {
		panic(err)
	}
	defer func() { _ = o.Close() }()

	if err := o.Conduct(ctx, "greeter"); err != nil {
		panic(err)
	}
	// Give the performer time to write its output and exit
	time.Sleep(300 * time.Millisecond)
	o.Pause(ctx, "")

	fmt.Println("Embedded logger example")
	fmt.Println("  Log directory:", logDir)
	fmt.Println("  Stdout log:", filepath.Join(logDir, "greeter.stdout.log"))
	fmt.Println("  Stderr log:", filepath.Join(logDir, "greeter.stderr.log"))
	fmt.Println("Tip: set ORCHESTRAL_LOG_DIR to choose a custom log directory.")
}
