// Command client is a line-oriented test client for the game server.
// It connects, joins with the given name, prints every server frame, and
// accepts simple commands on stdin:
//
//	move <x> <y>   send a PLAYER_UPDATE
//	eat <foodId>   send an ATE_FOOD claim
//	quit           disconnect
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
)

func send(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

func main() {
	addr := flag.String("addr", "localhost:12345", "server address")
	name := flag.String("name", "tester", "player name")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			log.Printf("<- %s", scanner.Text())
		}
		log.Printf("connection closed: %v", scanner.Err())
	}()

	if err := send(conn, map[string]any{"type": "CONNECT", "playerName": *name}); err != nil {
		log.Fatalf("write failed: %v", err)
	}
	log.Printf("connected as %q, type 'move <x> <y>', 'eat <id>' or 'quit'", *name)

	stdin := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-done:
			return
		default:
		}

		line, err := stdin.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "move":
			if len(fields) != 3 {
				fmt.Println("usage: move <x> <y>")
				continue
			}
			x, _ := strconv.ParseFloat(fields[1], 64)
			y, _ := strconv.ParseFloat(fields[2], 64)
			if err := send(conn, map[string]any{"type": "PLAYER_UPDATE", "x": x, "y": y}); err != nil {
				log.Printf("write failed: %v", err)
				return
			}
		case "eat":
			if len(fields) != 2 {
				fmt.Println("usage: eat <foodId>")
				continue
			}
			id, _ := strconv.Atoi(fields[1])
			if err := send(conn, map[string]any{"type": "ATE_FOOD", "foodId": id}); err != nil {
				log.Printf("write failed: %v", err)
				return
			}
		case "quit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}
