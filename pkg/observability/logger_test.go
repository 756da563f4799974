package observability

import (
    "os"
    "path/filepath"
    "strings"
    "testing"

    "go.uber.org/zap"

    "meshchat/pkg/config"
)

func TestSetupLoggerWritesJSONFile(t *testing.T) {
    prev := zap.L()
    defer zap.ReplaceGlobals(prev)

    out := filepath.Join(t.TempDir(), "logs", "node.log")
    logger, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{out}})
    if err != nil { t.Fatalf("setup: %v", err) }
    zap.L().Debug("route learned", zap.String("dest", "carol-aaaaaaaa"))
    _ = logger.Sync()

    b, err := os.ReadFile(out)
    if err != nil { t.Fatalf("read: %v", err) }
    if !strings.Contains(string(b), `"msg":"route learned"`) || !strings.Contains(string(b), `"dest":"carol-aaaaaaaa"`) {
        t.Fatalf("unexpected log output: %s", b)
    }
}

func TestParseLevel(t *testing.T) {
    if parseLevel("WARNING") != zap.WarnLevel { t.Fatalf("warning") }
    if parseLevel("bogus") != zap.InfoLevel { t.Fatalf("fallback") }
}
