// Command sieveclient is the Client stub's demonstrator binary
// (SPEC_FULL.md §4.8): it issues one operation against a chosen
// replica and prints the colorized terminal outcome. It is not the
// interactive operator console, which spec.md §1 keeps out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/jabolina/sieve-kv/pkg/sieve/client"
	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/definition"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"

	"github.com/sirupsen/logrus"
)

func main() {
	op := flag.String("op", "invoke", "invoke | get")
	key := flag.String("key", "", "operation key")
	value := flag.String("value", "", "operation value (invoke only)")
	clientPort := flag.Int("client-port", config.ClientPortThreshold+1, "local UDP port to bind, must be > ClientPortThreshold")
	clientKey := flag.String("client-key", "sieve-default-client-key", "shared secret for the client<->replica channel")
	replicaID := flag.Int("replica-id", 1, "replica id to send the request to")
	replicaHost := flag.String("replica-host", "127.0.0.1", "replica host")
	replicaPort := flag.Int("replica-port", config.ReplicaPortBase+1, "replica port")
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for a terminal outcome")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "sieveclient: -key is required")
		os.Exit(2)
	}

	log := definition.NewDefaultLogger(logrus.Fields{"role": "client"})
	peers := map[int]config.Peer{
		*replicaID: {ID: *replicaID, Host: *replicaHost, Port: *replicaPort, Key: *clientKey},
	}

	c, err := client.New(*clientPort, 65536, peers, *clientKey, log)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *op {
	case "invoke":
		outcome, err := c.Invoke(ctx, *replicaID, []byte(*key), []byte(*value))
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("invoke failed: %v", err))
			os.Exit(1)
		}
		printOutcome(outcome.Type)
		fmt.Println(client.OutcomeString(outcome))
	case "get":
		val, found, err := c.RequestValue(ctx, *replicaID, []byte(*key))
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("request_value failed: %v", err))
			os.Exit(1)
		}
		if !found {
			fmt.Println(color.YellowString("not found: %q", *key))
			return
		}
		fmt.Println(color.GreenString("%q = %q", *key, val))
	default:
		fmt.Fprintf(os.Stderr, "sieveclient: unknown -op %q\n", *op)
		os.Exit(2)
	}
}

func printOutcome(t types.MsgType) {
	switch t {
	case types.Commit:
		color.New(color.FgGreen, color.Bold).Println("COMMIT")
	case types.Abort, types.Rollback:
		color.New(color.FgRed, color.Bold).Println(t.String())
	case types.Complain, types.NewSieveConfig:
		color.New(color.FgYellow, color.Bold).Println(t.String())
	default:
		color.New(color.FgCyan).Println(t.String())
	}
}
