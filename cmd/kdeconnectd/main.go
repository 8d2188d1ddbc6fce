// Command kdeconnectd runs a standalone kdeconnect peer engine,
// announcing itself on the LAN and accepting pair requests. It is a
// minimal host: feature packets are logged, not acted on.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/r58Playz/kdeconnect"
	"github.com/r58Playz/kdeconnect/kdevice"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

func logLevel(name string) int {
	switch name {
	case "debug":
		return klog.LevelDebug
	case "info":
		return klog.LevelInfo
	case "error":
		return klog.LevelError
	case "silent":
		return klog.LevelSilent
	}
	return klog.LevelInfo
}

func main() {
	var (
		deviceName = flag.String("name", defaultDeviceName(), "device name announced to peers")
		baseDir    = flag.String("dir", defaultBaseDir(), "directory holding keys, certificate, and paired devices")
		logLvl     = flag.String("log-level", "info", "debug, info, error, or silent")
		mdns       = flag.Bool("mdns", true, "advertise and browse via mDNS in addition to UDP broadcast")
	)
	flag.Parse()

	log := klog.New(logLevel(*logLvl), fmt.Sprintf("(%s) ", *deviceName))

	id, err := loadOrCreateDeviceID(*baseDir)
	if err != nil {
		log.Errorf("load device id: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	engine, err := kdeconnect.New(ctx, kdeconnect.Options{
		DeviceID:             id,
		DeviceName:           *deviceName,
		DeviceType:           packet.DeviceDesktop,
		BaseDir:              *baseDir,
		Handlers:             func(deviceID string) kdevice.Handler { return newLoggingHandler(deviceID, log) },
		EnableMDNS:           *mdns,
		Log:                  log,
		IncomingCapabilities: []string{"kdeconnect.ping", "kdeconnect.share", "kdeconnect.battery"},
		OutgoingCapabilities: []string{"kdeconnect.ping", "kdeconnect.share", "kdeconnect.battery"},
	})
	if err != nil {
		log.Errorf("start engine: %v", err)
		os.Exit(1)
	}

	log.Infof("kdeconnectd started as %q (%s)", *deviceName, id)

	go func() {
		for sess := range engine.Sessions() {
			log.Infof("session established with %s", sess.DeviceID())
		}
	}()

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)
	<-term

	log.Infof("shutting down")
	if err := engine.Close(); err != nil {
		log.Errorf("close engine: %v", err)
	}
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "kdeconnectd"
}

func defaultBaseDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/kdeconnectd"
	}
	return ".kdeconnectd"
}

// loadOrCreateDeviceID gives this install a stable device_id across
// restarts, stored alongside the keypair/certificate FileStore manages.
func loadOrCreateDeviceID(dir string) (string, error) {
	path := dir + "/device_id"
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return string(b), nil
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
