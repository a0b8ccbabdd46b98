// Command sievereplica runs one Sieve protocol replica, bootstrapped
// entirely from environment variables (spec.md §6).
package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/core"
	"github.com/jabolina/sieve-kv/pkg/sieve/definition"
)

func main() {
	cluster, err := config.Load()
	if err != nil {
		logrus.Fatalf("sievereplica: %v", err)
	}

	log := definition.NewDefaultLogger(logrus.Fields{
		"pid":  cluster.SelfID,
		"role": "replica",
	})

	replica, err := core.New(cluster, log)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	replica.Start()
	log.Infof("replica %d listening on port %d (N=%d, f=%d)", cluster.SelfID, cluster.SelfPort, cluster.N, cluster.F)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infof("shutting down replica %s", strconv.Itoa(cluster.SelfID))
	replica.Close()
}
