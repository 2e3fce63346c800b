package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/husbylabs/warptables/internal/proto"
)

// Speaks the raw envelope protocol: handshake, resolve a table, then print
// the subscription stream until the timeout.
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	table := flag.String("table", "smoke", "table name to resolve")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	call := func(typ string, id uint64, req, resp any) error {
		env, err := proto.NewEnvelope(typ, id, req)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, env); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		if resp == nil {
			return nil
		}
		var reply proto.Envelope
		if err := wsjson.Read(ctx, conn, &reply); err != nil {
			return fmt.Errorf("read %s reply: %w", typ, err)
		}
		if reply.Error != nil {
			return fmt.Errorf("%s: %s: %s", typ, reply.Error.Code, reply.Error.Msg)
		}
		return json.Unmarshal(reply.Data, resp)
	}

	var hs proto.ServerHandshake
	if err := call(proto.TypeHandshake, 1, proto.ClientHandshake{Protocol: proto.ProtocolVersion, InstanceID: "ws-smoke"}, &hs); err != nil {
		return err
	}
	fmt.Printf("Handshake: supported=%v client_id=%d\n", hs.Supported, hs.ClientID)
	if !hs.Supported {
		return fmt.Errorf("server does not speak protocol %d", proto.ProtocolVersion)
	}

	var tr proto.TableResponse
	if err := call(proto.TypeFetchTable, 2, proto.FetchTableRequest{ClientID: hs.ClientID, Name: *table}, &tr); err != nil {
		return err
	}
	fmt.Printf("Table: name=%s id=%d\n", tr.Name, tr.TableID)

	if err := call(proto.TypeSubscribe, 3, proto.SubscribeTableRequest{ClientID: hs.ClientID}, nil); err != nil {
		return err
	}
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		switch env.Type {
		case proto.TypeTable:
			var item proto.TableResponse
			if err := json.Unmarshal(env.Data, &item); err != nil {
				fmt.Printf("Raw data: %s\n", string(env.Data))
				continue
			}
			fmt.Printf("Announced: name=%s id=%d\n", item.Name, item.TableID)
		case proto.TypeStreamEnd:
			return nil
		case proto.TypeError:
			if env.Error == nil {
				return fmt.Errorf("stream failed")
			}
			return fmt.Errorf("stream: %s: %s", env.Error.Code, env.Error.Msg)
		}
	}
}
