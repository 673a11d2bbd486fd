// Command exampleclient is a minimal console-driven demo of netasio's
// Client API — a port of the original tutorial's simple_client.cpp with
// the keyboard-polling GUI loop swapped for a line-oriented CLI, since a
// real input subsystem is out of this library's scope (spec §1).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

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
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 60000, "server port")
	flag.Parse()

	log := logrus.New()

	client := netasio.NewClient(netasio.WithClientLogger(log))
	if err := client.Connect(*host, uint16(*port)); err != nil {
		log.WithError(err).Fatal("connect failed")
	}
	defer client.Disconnect()

	go drain(client, log)

	fmt.Println("commands: p = ping, a = message all, q = quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "p":
			ping(client)
		case "a":
			client.Send(netasio.NewMessage(kindMessageAll))
		case "q":
			return
		}
		if !client.IsConnected() {
			log.Error("server down")
			return
		}
	}
}

func ping(c *netasio.Client) {
	msg := netasio.NewMessage(kindServerPing)
	_ = netasio.Push(msg, uint64(time.Now().UnixNano()))
	c.Send(msg)
}

func drain(client *netasio.Client, log *logrus.Logger) {
	for {
		owned, ok := client.Incoming().PopFront()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		switch owned.Message.Header.ID {
		case kindServerAccept:
			log.Info("server accepted connection")
		case kindServerPing:
			sent, err := netasio.Pop[uint64](owned.Message)
			if err == nil {
				rtt := time.Duration(uint64(time.Now().UnixNano()) - sent)
				log.WithField("rtt", rtt).Info("server pinged us back")
			}
		case kindServerMessage:
			log.Info("server has sent a message")
		}
	}
}
