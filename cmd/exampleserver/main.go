// Command exampleserver is a minimal ping/broadcast demo built on top of
// the netasio library's public API — it plays the role of the original
// tutorial's simple_server.cpp (spec SPEC_FULL "Supplemented features").
// It is not part of the library: it is the kind of CLI/event-loop shell
// spec §1 calls an external collaborator.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	netasio "github.com/marleeeeeey/network-asio-experience"
)

const (
	kindServerAccept netasio.MessageKind = iota + 1
	kindServerPing
	kindMessageAll
	kindServerMessage
)

func main() {
	port := flag.Int("port", 60000, "TCP port to listen on")
	flag.Parse()

	log := logrus.New()

	var server *netasio.Server
	server = netasio.NewServer(uint16(*port),
		netasio.WithServerLogger(log),
		netasio.WithOnClientConnect(func(c *netasio.Connection) bool {
			log.WithField("remote", c.RemoteAddr()).Info("client connect attempt")
			return true
		}),
		netasio.WithOnClientValidated(func(c *netasio.Connection) {
			log.WithField("id", c.ID()).Info("client validated")
			server.MessageClient(c, netasio.NewMessage(kindServerAccept))
		}),
		netasio.WithOnClientDisconnect(func(c *netasio.Connection) {
			log.WithField("id", c.ID()).Info("client disconnected")
		}),
		netasio.WithOnMessage(func(c *netasio.Connection, m *netasio.Message) {
			switch m.Header.ID {
			case kindServerPing:
				log.WithField("id", c.ID()).Info("ServerPing received")
				server.MessageClient(c, m)
			case kindMessageAll:
				log.WithField("id", c.ID()).Info("MessageAll received")
				reply := netasio.NewMessage(kindServerMessage)
				_ = netasio.Push(reply, c.ID())
				server.MessageAllClients(reply, c)
			default:
				log.WithField("id", m.Header.ID).Error("unrecognized message type")
			}
		}),
	)

	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
	log.WithField("port", *port).Info("server started")

	for {
		server.Update(-1, true)
	}
}
