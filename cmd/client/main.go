package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	mb "github.com/goburrow/modbus"

	"hvac-simulator/internal/config"
	"hvac-simulator/internal/model"
	"hvac-simulator/internal/modbus"
)

func main() {
	var (
		configPath string
		address    string
		interval   time.Duration
		slaveID    uint
		once       bool
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML configuration file (stock zones when empty)")
	flag.StringVar(&address, "addr", "", "Modbus TCP address (defaults to modbus.listen_address)")
	flag.DurationVar(&interval, "interval", 5*time.Second, "Poll interval")
	flag.UintVar(&slaveID, "slave", 1, "Unit id")
	flag.BoolVar(&once, "once", false, "Poll once and exit")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadYAML(configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if address == "" {
		address = cfg.Modbus.ListenAddress
	}

	h := mb.NewTCPClientHandler(normalizeAddress(address))
	h.Timeout = 5 * time.Second
	h.SlaveId = byte(slaveID)
	if err := h.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer h.Close()
	client := mb.NewClient(h)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for i, z := range cfg.ZoneRefs() {
			if err := printZone(client, z.ID, modbus.BaseAddress(i)); err != nil {
				log.Printf("zone %s: %v", z.ID, err)
			}
		}
		if once {
			return
		}
		<-ticker.C
	}
}

func printZone(client mb.Client, zoneID string, base uint16) error {
	data, err := client.ReadInputRegisters(base, model.ZoneBlockSize)
	if err != nil {
		return fmt.Errorf("read input registers @%d: %w", base, err)
	}
	bits, err := client.ReadDiscreteInputs(base, 3)
	if err != nil {
		return fmt.Errorf("read discrete inputs @%d: %w", base, err)
	}

	z := model.ZoneRegisters{ZoneID: zoneID, BaseAddress: base, Words: make([]uint16, model.ZoneBlockSize)}
	for i := range z.Words {
		z.Words[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	flags := bits[0]
	if flags&(1<<modbus.BitHasData) == 0 {
		fmt.Printf("%s (@%d): no data yet, setpoint=%s\n", zoneID, base, formatNumber(z.Value(model.RegSetpoint)))
		return nil
	}

	trend := model.TrendStable
	switch {
	case flags&(1<<modbus.BitRising) != 0:
		trend = model.TrendRising
	case flags&(1<<modbus.BitFalling) != 0:
		trend = model.TrendFalling
	}

	parts := make([]string, 0, model.ZoneBlockSize+1)
	for off, name := range model.RegisterNames {
		parts = append(parts, name+"="+formatNumber(z.Value(uint16(off))))
	}
	parts = append(parts, "trend="+string(trend))
	fmt.Printf("%s (@%d): %s\n", zoneID, base, strings.Join(parts, " "))
	return nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":1502"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil && !strings.Contains(addr, ":") {
		addr = "127.0.0.1:" + addr
	}
	return addr
}
