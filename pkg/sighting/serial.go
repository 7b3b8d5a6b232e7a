package sighting

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// DefaultScanPeriod is the foreground BLE scan cycle of the scanners.
const DefaultScanPeriod = 1100 * time.Millisecond

// SerialConfig describes the scanner dongle connection.
type SerialConfig struct {
	Port       string
	BaudRate   int
	ScanPeriod time.Duration
	Buffer     int
}

// SerialSource reads one sighting per line from a BLE scanner attached to a
// serial port and emits everything read during a scan period as one batch.
// Empty batches are emitted too so downstream expiry keeps running.
type SerialSource struct {
	*emitter
	cfg  SerialConfig
	open func(*serial.Config) (io.ReadCloser, error)

	mu      sync.Mutex
	port    io.ReadCloser
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewSerialSource creates a SerialSource; the port is opened by Start.
func NewSerialSource(cfg SerialConfig, logger zerolog.Logger) *SerialSource {
	if cfg.ScanPeriod <= 0 {
		cfg.ScanPeriod = DefaultScanPeriod
	}
	return &SerialSource{
		emitter: newEmitter(cfg.Buffer, logger),
		cfg:     cfg,
		open: func(c *serial.Config) (io.ReadCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// Start implements Source.
func (s *SerialSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("serial sighting source is already running")
	}

	port, err := s.open(&serial.Config{Name: s.cfg.Port, Baud: s.cfg.BaudRate})
	if err != nil {
		return err
	}
	s.reopen()
	s.port = port
	s.done = make(chan struct{})
	s.running = true

	lines := make(chan string, 64)
	s.wg.Add(1)
	go s.readLines(port, lines, s.done)
	go s.batchLines(lines, s.done)

	s.logger.Info().
		Str("port", s.cfg.Port).
		Int("baud_rate", s.cfg.BaudRate).
		Dur("scan_period", s.cfg.ScanPeriod).
		Msg("Serial sighting source started")
	return nil
}

// readLines is not waited on by Close: a blocked port read only returns once
// the port is closed, and the send select lets it exit after that.
func (s *SerialSource) readLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-done:
		default:
			s.logger.Warn().Err(err).Msg("Serial scanner read failed")
		}
	}
}

// batchLines parses lines as they arrive and flushes once per scan period.
func (s *SerialSource) batchLines(lines <-chan string, done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ScanPeriod)
	defer ticker.Stop()

	var pending []beacon.Sighting
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if len(pending) > 0 {
					s.emit(pending)
				}
				return
			}
			if line == "" {
				continue
			}
			sighting, err := ParseLine(line)
			if err != nil {
				s.logger.Debug().Err(err).Str("line", line).Msg("Skipping unparseable scanner line")
				continue
			}
			pending = append(pending, sighting)
		case <-ticker.C:
			s.emit(pending)
			pending = nil
		case <-done:
			return
		}
	}
}

// Close implements Source.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.running {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
		s.running = false
	}
	s.close()
	return err
}
