package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

const (
	functionReadDiscreteInputs = 0x02
	functionReadHoldingRegs    = 0x03
	functionReadInputRegs      = 0x04

	exceptionIllegalFunction = 0x01
	exceptionIllegalDataAddr = 0x02
	exceptionIllegalDataVal  = 0x03

	maxReadRegisters = 125
	maxReadBits      = 2000
)

var (
	errOutOfRange    = errors.New("out of range")
	errInvalidQty    = errors.New("invalid quantity")
	errInvalidPDULen = errors.New("invalid pdu length")
)

// Server is a read-only Modbus TCP server over three register tables:
// input registers, holding registers and discrete inputs.
type Server struct {
	log       *slog.Logger
	listener  net.Listener
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	mu      sync.RWMutex
	input   []uint16
	holding []uint16
	bits    []bool
}

// NewServer sizes every table to size entries.
func NewServer(size int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:     log.With("component", "modbus"),
		input:   make([]uint16, size),
		holding: make([]uint16, size),
		bits:    make([]bool, size),
		quit:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen starts accepting Modbus TCP connections on address.
func (s *Server) Listen(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("modbus listen %s: %w", address, err)
	}
	s.listener = l
	s.log.Info("listening", "addr", l.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}
		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		conn.Close()
	}()

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			s.log.Debug("short frame", "remote", conn.RemoteAddr().String(), "length", length)
			return
		}

		unitID := header[6]
		pdu := make([]byte, int(length-1))
		if _, err := io.ReadFull(conn, pdu); err != nil {
			return
		}

		response := s.handlePDU(pdu)

		binary.BigEndian.PutUint16(header[2:4], 0)
		binary.BigEndian.PutUint16(header[4:6], uint16(len(response)+1))
		header[6] = unitID

		if _, err := conn.Write(append(header, response...)); err != nil {
			return
		}
	}
}

func (s *Server) handlePDU(pdu []byte) []byte {
	function := pdu[0]
	var (
		data []byte
		err  error
	)
	switch function {
	case functionReadDiscreteInputs:
		data, err = s.readBits(pdu)
	case functionReadHoldingRegs:
		data, err = s.readRegisters(s.holding, pdu)
	case functionReadInputRegs:
		data, err = s.readRegisters(s.input, pdu)
	default:
		return exceptionResponse(function, exceptionIllegalFunction)
	}
	if err != nil {
		return exceptionResponse(function, errToCode(err))
	}
	return append([]byte{function, byte(len(data))}, data...)
}

func parseRange(pdu []byte, max uint16, size int) (start, quantity uint16, err error) {
	if len(pdu) < 5 {
		return 0, 0, errInvalidPDULen
	}
	start = binary.BigEndian.Uint16(pdu[1:3])
	quantity = binary.BigEndian.Uint16(pdu[3:5])
	if quantity == 0 || quantity > max {
		return 0, 0, errInvalidQty
	}
	if int(start)+int(quantity) > size {
		return 0, 0, errOutOfRange
	}
	return start, quantity, nil
}

func (s *Server) readBits(pdu []byte) ([]byte, error) {
	start, quantity, err := parseRange(pdu, maxReadBits, len(s.bits))
	if err != nil {
		return nil, err
	}
	result := make([]byte, (int(quantity)+7)/8)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < int(quantity); i++ {
		if s.bits[int(start)+i] {
			result[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return result, nil
}

func (s *Server) readRegisters(table []uint16, pdu []byte) ([]byte, error) {
	start, quantity, err := parseRange(pdu, maxReadRegisters, len(table))
	if err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], table[int(start)+i])
	}
	return result, nil
}

func exceptionResponse(function byte, code byte) []byte {
	return []byte{function | 0x80, code}
}

func errToCode(err error) byte {
	switch {
	case errors.Is(err, errOutOfRange):
		return exceptionIllegalDataAddr
	case errors.Is(err, errInvalidQty), errors.Is(err, errInvalidPDULen):
		return exceptionIllegalDataVal
	default:
		return exceptionIllegalFunction
	}
}

// Close stops accepting, drops open connections and waits for all
// goroutines to exit.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
}

// writeInput copies words into the input table starting at address.
func (s *Server) writeInput(address uint16, words []uint16) error {
	if int(address)+len(words) > len(s.input) {
		return fmt.Errorf("input %d+%d: %w", address, len(words), errOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.input[address:], words)
	return nil
}

func (s *Server) setHolding(address, value uint16) error {
	if int(address) >= len(s.holding) {
		return fmt.Errorf("holding %d: %w", address, errOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding[address] = value
	return nil
}

func (s *Server) setBit(address uint16, v bool) error {
	if int(address) >= len(s.bits) {
		return fmt.Errorf("discrete input %d: %w", address, errOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits[address] = v
	return nil
}

// inputBlock returns a copy of n input registers starting at address.
func (s *Server) inputBlock(address uint16, n int) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint16, n)
	copy(out, s.input[address:int(address)+n])
	return out
}
