package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"

	"github.com/tinylabs/crypto-rtl-cores/adapter"
	"github.com/tinylabs/crypto-rtl-cores/cli"
	"github.com/tinylabs/crypto-rtl-cores/crypto1"
	"github.com/tinylabs/crypto-rtl-cores/storage"
)

func main() {
	tracePath := flag.String("trace", "", "path to a keystream trace (.c1t, optionally archived)")
	bitsArg := flag.String("bits", "", "keystream as a hex value (use instead of -trace)")
	bitLen := flag.Int("len", 48, "bit length of -bits")
	configPath := flag.String("config", "config.json", "path to the configuration file")
	backend := flag.String("backend", "", "override backend: software or fpga")
	device := flag.String("device", "", "override FPGA serial device")
	first := flag.Bool("first", false, "stop at the first verified key")
	all := flag.Bool("all", false, "enumerate every verified key")
	genProb := flag.Int("gen-prob", 0, "generate a probability table from N random states")
	probOut := flag.String("prob-out", "crypto1_prob.bin", "output path for -gen-prob")
	probSeed := flag.Int64("prob-seed", 1, "RNG seed for -gen-prob")
	rewindArg := flag.String("rewind", "", "rewind a register value 45 clocks and exit")
	flag.Parse()

	if *rewindArg != "" {
		state, err := parseHex48(*rewindArg)
		if err != nil {
			log.Fatal(err)
		}
		c, err := crypto1.NewFromState(state)
		if err != nil {
			log.Fatal(err)
		}
		for i := 0; i < 45; i++ {
			c.StepReverse(0, false)
		}
		fmt.Printf("0x%012X\n", c.State())
		return
	}

	if *genProb > 0 {
		log.Printf("sampling %d random states...", *genProb)
		table := crypto1.BuildProbTable(*genProb, rand.New(rand.NewSource(*probSeed)))
		if err := table.WriteFile(*probOut); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", *probOut)
		return
	}

	cfg, err := storage.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *first {
		cfg.FirstMatch = true
	}
	if *all {
		cfg.FirstMatch = false
	}

	rec, closer, err := (&adapter.Factory{}).New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if closer != nil {
		defer closer.Close()
	}
	runner := cli.NewRunner(rec)

	var key uint64
	switch {
	case *tracePath != "":
		key, err = runner.RecoverTrace(*tracePath)
	case *bitsArg != "":
		if *bitLen < 48 || *bitLen > 64 {
			log.Fatalf("-len %d out of range [48,64]", *bitLen)
		}
		var value uint64
		value, err = parseHex(*bitsArg)
		if err == nil {
			key, err = runner.RecoverBits(crypto1.BitVectorFromUint(value, *bitLen))
		}
	default:
		log.Fatal("nothing to do: pass -trace or -bits (see -help)")
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("0x%012X\n", key)
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
}

func parseHex48(s string) (uint64, error) {
	v, err := parseHex(s)
	if err != nil {
		return 0, err
	}
	if v >= 1<<48 {
		return 0, fmt.Errorf("value 0x%X does not fit in 48 bits", v)
	}
	return v, nil
}
