package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"
)

func main() {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    if err := newRootCmd().ExecuteContext(ctx); err != nil {
        fatalf("%v", err)
    }
}

func fatalf(format string, args ...any) {
    fmt.Fprintf(os.Stderr, "meshchat-ctl: "+format+"\n", args...)
    os.Exit(1)
}
