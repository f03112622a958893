// remora-follower runs the follower side of the protocol: it pairs with a
// main device and requests treatment commands from the terminal.
//
// Usage:
//
//	remora-follower -db follower.db -keys keys.db -master-key <hex> \
//	    -relay wss://relay.example.org/v1 -credentials <token> \
//	    -bundle <pairing bundle>
//
// With -bundle the process imports a pairing bundle printed by
// remora-main. Terminal commands: "verify" confirms the displayed
// verification code, "bolus <units>" requests a bolus, "confirm" confirms
// the prepared command, "status" prints the current command slot and
// "clear" discards a finished one. Ctrl-C exits.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/remora"
	"github.com/TebbeUbben/remora/pkg/store"
	"github.com/TebbeUbben/remora/pkg/transport"
	"github.com/TebbeUbben/remora/pkg/wire"
)

func main() {
	var (
		dbPath    = flag.String("db", "remora-follower.db", "node database path")
		keysPath  = flag.String("keys", "remora-follower-keys.db", "key store path")
		masterKey = flag.String("master-key", "", "hex-encoded 16-byte key store master key")
		relayURL  = flag.String("relay", "", "relay websocket URL")
		creds     = flag.String("credentials", "", "relay credentials")
		bundle    = flag.String("bundle", "", "pairing bundle from the main device")
	)
	flag.Parse()

	mk, err := hex.DecodeString(*masterKey)
	if err != nil || len(mk) == 0 {
		log.Fatal("a hex-encoded -master-key is required")
	}

	db, err := store.OpenSQLite(*dbPath)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	keys, err := keystore.OpenSQLite(*keysPath, mk)
	if err != nil {
		log.Fatalf("opening key store: %v", err)
	}
	defer keys.Close()

	relay, err := transport.NewRelay(transport.RelayConfig{URL: *relayURL, Credentials: *creds})
	if err != nil {
		log.Fatalf("creating relay client: %v", err)
	}
	relay.Start()
	defer relay.Close()

	node, err := remora.NewFollower(remora.Config{
		Store:           db,
		KeyStore:        keys,
		Transport:       relay,
		OnCommandChange: printCommandState,
	})
	if err != nil {
		log.Fatalf("creating node: %v", err)
	}
	if err := node.Start(); err != nil {
		log.Fatalf("starting node: %v", err)
	}
	defer node.Stop()

	if *bundle != "" {
		d, err := node.Pair(*bundle, "main device")
		if err != nil {
			log.Fatalf("pairing: %v", err)
		}
		fmt.Printf("pairing with %s started, compare the verification code once it appears\n", d.ID)
	}

	go readCommands(node)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
}

func readCommands(node *remora.FollowerNode) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "verify":
			confirmVerification(node)
		case "bolus":
			if len(fields) != 2 {
				fmt.Println("usage: bolus <units>")
				continue
			}
			requestBolus(node, fields[1])
		case "confirm":
			if err := node.ConfirmCommand(); err != nil {
				log.Printf("confirming command: %v", err)
			}
		case "status":
			state, err := node.CurrentCommand()
			if err != nil {
				log.Printf("loading command: %v", err)
				continue
			}
			printCommandState(state)
		case "clear":
			if err := node.ClearCommand(); err != nil {
				log.Printf("clearing command: %v", err)
			}
		default:
			fmt.Println("commands: verify, bolus <units>, confirm, status, clear")
		}
	}
}

func confirmVerification(node *remora.FollowerNode) {
	d, err := node.MainDevice()
	if err != nil {
		log.Printf("loading main device: %v", err)
		return
	}
	fmt.Printf("verification data for %s: %x\n", d.ID, d.VerificationData)
	if err := node.ConfirmVerification(d.ID); err != nil {
		log.Printf("confirming verification: %v", err)
	}
}

func requestBolus(node *remora.FollowerNode, arg string) {
	amount, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		fmt.Println("usage: bolus <units>")
		return
	}
	data := &wire.CommandData{Variant: wire.VariantBolus, Bolus: &wire.BolusData{Amount: amount}}
	snapshot := wire.StatusSnapshot{Timestamp: time.Now()}
	if err := node.RequestCommand(data, snapshot); err != nil {
		log.Printf("requesting command: %v", err)
	}
}

func printCommandState(state *command.State) {
	if state == nil {
		fmt.Println("no current command")
		return
	}
	switch state.Phase {
	case command.PhaseInitial:
		fmt.Println("command requested, waiting for the pump to answer")
	case command.PhaseRejected:
		fmt.Printf("command rejected: %s\n", state.Error)
	case command.PhasePrepared:
		fmt.Printf("pump prepared %s, type \"confirm\" before %s\n",
			describeData(state.ConstrainedData), state.ValidUntil.Format(time.Kitchen))
	case command.PhaseProgressing:
		if state.Progress != nil && state.Progress.Kind == wire.ProgressPercentage {
			fmt.Printf("delivering: %d%%\n", state.Progress.Percentage)
		} else {
			fmt.Println("delivering")
		}
	case command.PhaseFinal:
		if state.Result.Error == wire.ErrorNone {
			fmt.Printf("done: %s\n", describeData(state.Result.Data))
		} else {
			fmt.Printf("failed: %s\n", state.Result.Error)
		}
	}
}

func describeData(data *wire.CommandData) string {
	if data == nil {
		return "nothing"
	}
	switch data.Variant {
	case wire.VariantBolus:
		return fmt.Sprintf("a bolus of %.2f U", data.Bolus.Amount)
	default:
		return data.Variant.String()
	}
}
