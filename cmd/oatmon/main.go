// Command oatmon attaches to a single Oatmeal endpoint and tails its
// heartbeats and log traffic, optionally mirroring raw bytes to a UDP peer
// for external capture.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/curative/oatmeal-protocol/oatmeal"
)

var (
	serialPath = kingpin.Flag("device", "Path to serial port device").Required().String()
	baudRate   = kingpin.Flag("baud", "Serial port baudrate").Default("115200").Uint()
	mirrorAddr = kingpin.Flag("mirror", "host:port to mirror raw traffic to over UDP").String()
	heartbeats = kingpin.Flag("heartbeats", "Ask the device to start emitting heartbeats").Default("true").Bool()
)

func main() {
	kingpin.Version("0.1")
	kingpin.Parse()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.StandardLogger()

	phy, err := oatmeal.NewSerialEndpoint(*serialPath, *baudRate)
	if err != nil {
		log.Fatalf("opening %s: %v", *serialPath, err)
	}

	opts := oatmeal.DefaultPortOptions()
	opts.BgHandler = oatmeal.NewLogrusBgHandler(log)
	if *mirrorAddr != "" {
		mirror, err := oatmeal.NewUDPDataMirror(*mirrorAddr)
		if err != nil {
			log.Fatalf("dialing mirror %s: %v", *mirrorAddr, err)
		}
		opts.DataMirror = mirror
	}

	port, err := oatmeal.NewPort(phy, opts)
	if err != nil {
		log.Fatalf("starting port: %v", err)
	}
	defer port.Stop()

	details, err := port.AskWho(500*time.Millisecond, 3)
	if err != nil {
		log.Fatalf("identifying device: %v", err)
	}
	log.Infof("attached to role=%s hwid=%s (short %s) version=%s",
		details.Role, details.HardwareID, details.ShortHardwareID(), details.Version)

	if *heartbeats {
		if err := port.SetHeartbeatExpectation(true, 500*time.Millisecond, 3); err != nil {
			log.Warnf("could not enable heartbeats: %v", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			fmt.Println("shutting down")
			return
		case <-ticker.C:
			stats := port.Stats()
			log.Debugf("stats: good=%d bad_checksum=%d too_short=%d too_long=%d missing_start=%d missing_end=%d invalid_byte=%d other=%d missed_acks=%d",
				stats.GoodFrames, stats.BadChecksum, stats.TooShort, stats.TooLong,
				stats.MissingStart, stats.MissingEnd, stats.InvalidByte, stats.OtherParseErr,
				port.MissedAcks())
		}
	}
}
