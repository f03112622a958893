// remora-main runs the main-device side of the protocol: it pairs
// followers, validates their treatment requests against a simulated pump
// and executes confirmed commands.
//
// Usage:
//
//	remora-main -db main.db -keys keys.db -master-key <hex> \
//	    -relay wss://relay.example.org/v1 -credentials <token> -pair
//
// With -pair the process begins a pairing and prints the bundle for the
// follower to scan. Typing "verify" confirms the displayed verification
// code; "followers" lists peers; Ctrl-C exits.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/remora"
	"github.com/TebbeUbben/remora/pkg/store"
	"github.com/TebbeUbben/remora/pkg/transport"
	"github.com/TebbeUbben/remora/pkg/wire"
)

// simulatedPump approves everything up to maxBolus and "delivers" with a
// short progress ramp.
type simulatedPump struct {
	maxBolus float64
}

func (p *simulatedPump) ValidateStatusSnapshot(snapshot wire.StatusSnapshot) wire.CommandError {
	if snapshot.Timestamp.IsZero() {
		return wire.ErrorInvalidValue
	}
	return wire.ErrorNone
}

func (p *simulatedPump) PrepareTreatment(data *wire.CommandData) (*wire.CommandData, wire.CommandError) {
	if data == nil || data.Variant != wire.VariantBolus || data.Bolus.Amount <= 0 {
		return nil, wire.ErrorInvalidValue
	}
	amount := data.Bolus.Amount
	if amount > p.maxBolus {
		amount = p.maxBolus
	}
	return &wire.CommandData{Variant: wire.VariantBolus, Bolus: &wire.BolusData{Amount: amount}}, wire.ErrorNone
}

func (p *simulatedPump) ExecuteTreatment(ctx context.Context, data *wire.CommandData, progress func(wire.CommandProgress)) (*wire.CommandData, wire.CommandError) {
	fmt.Printf("delivering bolus of %.2f U\n", data.Bolus.Amount)
	for pct := uint8(0); pct <= 100; pct += 25 {
		progress(wire.CommandProgress{Kind: wire.ProgressPercentage, Percentage: pct})
		time.Sleep(2 * time.Second)
	}
	return data, wire.ErrorNone
}

func main() {
	var (
		dbPath    = flag.String("db", "remora-main.db", "node database path")
		keysPath  = flag.String("keys", "remora-main-keys.db", "key store path")
		masterKey = flag.String("master-key", "", "hex-encoded 16-byte key store master key")
		relayURL  = flag.String("relay", "", "relay websocket URL")
		creds     = flag.String("credentials", "", "relay credentials")
		maxBolus  = flag.Float64("max-bolus", 10, "largest bolus the pump accepts")
		pair      = flag.Bool("pair", false, "begin a pairing and print the bundle")
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

	var handler command.Handler = &simulatedPump{maxBolus: *maxBolus}
	node, err := remora.NewMain(remora.Config{
		Store:            db,
		KeyStore:         keys,
		Transport:        relay,
		Handler:          handler,
		RelayURL:         *relayURL,
		RelayCredentials: *creds,
	})
	if err != nil {
		log.Fatalf("creating node: %v", err)
	}
	if err := node.Start(); err != nil {
		log.Fatalf("starting node: %v", err)
	}
	defer node.Stop()

	if *pair {
		followers, err := node.Followers()
		if err != nil {
			log.Fatalf("listing followers: %v", err)
		}
		d, bundle, err := node.BeginPairing(uint32(len(followers)+1), "follower")
		if err != nil {
			log.Fatalf("beginning pairing: %v", err)
		}
		fmt.Printf("pairing %s started, transfer this bundle out of band:\n%s\n", d.ID, bundle)
	}

	go readCommands(node)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
}

func readCommands(node *remora.MainNode) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "verify":
			confirmFirstVerifying(node)
		case "followers":
			listFollowers(node)
		case "":
		default:
			fmt.Println("commands: verify, followers")
		}
	}
}

func confirmFirstVerifying(node *remora.MainNode) {
	followers, err := node.Followers()
	if err != nil {
		log.Printf("listing followers: %v", err)
		return
	}
	for _, d := range followers {
		if d.Stage == peer.StageVerifying {
			fmt.Printf("verification data for %s: %x\n", d.ID, d.VerificationData)
			if err := node.ConfirmVerification(d.ID); err != nil {
				log.Printf("confirming verification: %v", err)
			}
			return
		}
	}
	fmt.Println("no peer awaiting verification")
}

func listFollowers(node *remora.MainNode) {
	followers, err := node.Followers()
	if err != nil {
		log.Printf("listing followers: %v", err)
		return
	}
	for _, d := range followers {
		fmt.Printf("%s  stage=%s  name=%q\n", d.ID, d.Stage, d.DisplayName)
	}
}
