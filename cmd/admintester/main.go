// Command admintester is a standalone interactive MQTT client used to
// exercise a running broker by hand: connect, subscribe, publish, and watch
// messages arrive. It is a privileged-in-spirit but ordinary-in-practice
// client — it speaks the wire protocol like any other client and has no
// special access to the broker's admin surface.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	broker   = flag.String("broker", "tcp://127.0.0.1:1883", "MQTT broker address")
	clientID = flag.String("client", "admintester", "Client ID")
	username = flag.String("user", "", "Username for authentication")
	password = flag.String("pass", "", "Password for authentication")
	qos      = flag.Int("qos", 0, "Default Quality of Service (0 or 1)")
)

func main() {
	flag.Parse()

	fmt.Println("MQTT admin test client")
	fmt.Printf("Connecting to broker: %s\n", *broker)
	fmt.Printf("Client ID: %s\n", *clientID)
	fmt.Printf("Default QoS: %d\n\n", *qos)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(*clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWriteTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if *username != "" {
		opts.SetUsername(*username)
	}
	if *password != "" {
		opts.SetPassword(*password)
	}

	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		fmt.Printf("\nmessage received: topic=%s qos=%d payload=%s\n", msg.Topic(), msg.Qos(), msg.Payload())
		fmt.Print("> ")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		fmt.Println("connected to broker")
		fmt.Print("> ")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		fmt.Printf("\nconnection lost: %v\nattempting to reconnect...\n", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		fmt.Println("connection timeout")
		os.Exit(1)
	}
	if token.Error() != nil {
		fmt.Printf("failed to connect: %v\n", token.Error())
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\ndisconnecting...")
		client.Disconnect(250)
		os.Exit(0)
	}()

	printHelp()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "help", "h":
			printHelp()

		case "subscribe", "sub":
			if len(parts) < 2 {
				fmt.Println("usage: subscribe <topic> [qos]")
				break
			}
			topic := parts[1]
			qosLevel := byte(*qos)
			if len(parts) >= 3 {
				fmt.Sscanf(parts[2], "%d", &qosLevel)
			}
			token := client.Subscribe(topic, qosLevel, nil)
			if token.WaitTimeout(5 * time.Second) {
				if token.Error() != nil {
					fmt.Printf("subscribe failed: %v\n", token.Error())
				} else {
					fmt.Printf("subscribed to %q (QoS %d)\n", topic, qosLevel)
				}
			} else {
				fmt.Printf("subscribe timeout for %q\n", topic)
			}

		case "unsubscribe", "unsub":
			if len(parts) < 2 {
				fmt.Println("usage: unsubscribe <topic>")
				break
			}
			topic := parts[1]
			token := client.Unsubscribe(topic)
			if token.WaitTimeout(5 * time.Second) {
				if token.Error() != nil {
					fmt.Printf("unsubscribe failed: %v\n", token.Error())
				} else {
					fmt.Printf("unsubscribed from %q\n", topic)
				}
			} else {
				fmt.Printf("unsubscribe timeout for %q\n", topic)
			}

		case "publish", "pub":
			if len(parts) < 3 {
				fmt.Println("usage: publish <topic> <message> [qos]")
				break
			}
			topic := parts[1]
			msgParts := parts[2:]
			qosLevel := byte(*qos)
			if n := len(msgParts); n > 1 {
				if msgParts[n-1] == "0" || msgParts[n-1] == "1" {
					fmt.Sscanf(msgParts[n-1], "%d", &qosLevel)
					msgParts = msgParts[:n-1]
				}
			}
			message := strings.Join(msgParts, " ")
			token := client.Publish(topic, qosLevel, false, message)
			if token.WaitTimeout(5 * time.Second) {
				if token.Error() != nil {
					fmt.Printf("publish failed: %v\n", token.Error())
				} else {
					fmt.Printf("published to %q (QoS %d)\n", topic, qosLevel)
				}
			} else {
				fmt.Printf("publish timeout for %q\n", topic)
			}

		case "status", "s":
			if client.IsConnected() {
				fmt.Println("status: connected")
			} else {
				fmt.Println("status: disconnected")
			}

		case "exit", "quit", "q":
			fmt.Println("disconnecting...")
			client.Disconnect(250)
			return

		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}

		fmt.Print("> ")
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("error reading input: %v\n", err)
	}
}

func printHelp() {
	fmt.Println("\navailable commands:")
	fmt.Println("  subscribe <topic> [qos]     - subscribe to a topic (QoS 0 or 1)")
	fmt.Println("  unsubscribe <topic>         - unsubscribe from a topic")
	fmt.Println("  publish <topic> <msg> [qos] - publish a message")
	fmt.Println("  status                      - show connection status")
	fmt.Println("  help                        - show this help")
	fmt.Println("  exit                        - exit the client")
	fmt.Println("\nnote: this broker matches topics by exact string equality only;")
	fmt.Println("'+' and '#' wildcard filters are accepted but match nothing else.")
}
