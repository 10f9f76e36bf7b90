// Command echoserver runs a netreactor echo server on port 2000 with 4 I/O
// threads.
package main

import (
	"log"
	"time"

	"github.com/relaycove/netreactor"
	"github.com/relaycove/netreactor/addr"
	"github.com/relaycove/netreactor/buffer"
)

func main() {
	loop, err := netreactor.New()
	if err != nil {
		log.Fatalf("new loop: %v", err)
	}

	listenAddr := addr.New(2000, false, addr.FamilyV4)

	srv, err := netreactor.NewServer(loop, listenAddr,
		netreactor.WithIOThreads(4),
		netreactor.WithConnectionHandler(onConnection),
		netreactor.WithMessageHandler(onMessage),
	)
	if err != nil {
		log.Fatalf("new server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("start server: %v", err)
	}

	log.Println("echoserver listening on :2000")
	if err := loop.Run(); err != nil {
		log.Fatalf("loop run: %v", err)
	}
}

func onConnection(c *netreactor.Connection) {
	if c.IsConnected() {
		log.Printf("connection up: %s -> %s", c.PeerAddr(), c.LocalAddr())
	} else {
		log.Printf("connection down: %s", c.Name())
	}
}

func onMessage(c *netreactor.Connection, buf *buffer.Buffer, _ time.Time) {
	c.SendString(buf.PopAll())
}
