package main

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "fmt"
    "os"

    "github.com/spf13/cobra"

    "meshchat/pkg/identity"
)

// Options holds CLI options for the node.
type Options struct {
    ConfigPath string
}

func newRootCmd() *cobra.Command {
    root := &cobra.Command{
        Use:           "meshchat-node",
        Short:         "offline mesh chat node",
        Long:          `meshchat-node joins nearby devices into a mesh and relays chat messages for them`,
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    root.AddCommand(newRunCmd(), newKeygenCmd())
    return root
}

func newRunCmd() *cobra.Command {
    var opts Options
    cmd := &cobra.Command{
        Use:   "run",
        Short: "run the node until interrupted",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if code := run(cmd.Context(), opts); code != 0 { return fmt.Errorf("node exited with status %d", code) }
            return nil
        },
    }
    cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
    return cmd
}

func newKeygenCmd() *cobra.Command {
    var (
        out  string
        name string
    )
    cmd := &cobra.Command{
        Use:   "keygen",
        Short: "generate an ed25519 identity key",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            pub, priv, err := ed25519.GenerateKey(rand.Reader)
            if err != nil { return err }
            w := cmd.OutOrStdout()
            if out == "" {
                fmt.Fprintln(w, base64.RawURLEncoding.EncodeToString(priv))
            } else {
                if err := identity.Save(out, priv); err != nil { return err }
                fmt.Fprintf(w, "wrote %s\n", out)
            }
            if name != "" { fmt.Fprintf(os.Stderr, "peer id: %s\n", identity.PeerIDFor(name, pub)) }
            return nil
        },
    }
    cmd.Flags().StringVarP(&out, "out", "o", "", "write the key to this file instead of stdout")
    cmd.Flags().StringVar(&name, "name", "", "display name to derive the peer id for")
    return cmd
}
