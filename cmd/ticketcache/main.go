package main

import (
	"log"

	"github.com/unkn0wn-root/ticketcache/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
