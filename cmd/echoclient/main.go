// Command echoclient connects to an echoserver, sends "hello\n", and prints
// whatever it reads back.
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

	serverAddr := addr.New(2000, true, addr.FamilyV4)

	client := netreactor.NewClient(loop, serverAddr,
		netreactor.WithClientConnectionHandler(onConnection),
		netreactor.WithClientMessageHandler(onMessage),
	)
	client.Connect()

	log.Println("echoclient connecting to 127.0.0.1:2000")
	if err := loop.Run(); err != nil {
		log.Fatalf("loop run: %v", err)
	}
}

func onConnection(c *netreactor.Connection) {
	if c.IsConnected() {
		log.Printf("connected to %s", c.PeerAddr())
		c.SendString("hello\n")
		return
	}
	log.Printf("disconnected from %s", c.Name())
	c.Loop().Quit()
}

func onMessage(c *netreactor.Connection, buf *buffer.Buffer, _ time.Time) {
	log.Printf("received: %q", buf.PopAll())
	c.ForceClose()
}
