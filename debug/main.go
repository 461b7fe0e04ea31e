package main

import (
	"net/http"
	"os"

	"github.com/emrgen/docsync/internal/relay"
	"github.com/sirupsen/logrus"
)

// runs the in-memory relay for local development
func main() {
	port := os.Getenv("RELAY_PORT")
	if port == "" {
		port = "7447"
	}

	r := relay.New()
	logrus.Infof("relay listening on ws://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logrus.Fatalf("relay stopped: %v", err)
	}
}
