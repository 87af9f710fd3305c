package main

import (
    "log"

    "github.com/spf13/cobra"

    gossipcli "github.com/amirimatin/go-gossip/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "gossipctl",
        Short:         "go-gossip member and management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all gossip commands from pkg/cli for reuse in services
    gossipcli.AddAll(root)
    return root
}
