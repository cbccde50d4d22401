package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("ordersync finished with error")
		os.Exit(1)
	}
}
