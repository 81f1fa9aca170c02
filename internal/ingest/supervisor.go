package ingest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oakmere/fleettrack/internal/broadcast"
	"github.com/oakmere/fleettrack/internal/config"
	"github.com/oakmere/fleettrack/internal/db"
	"github.com/oakmere/fleettrack/internal/geofence"
	"github.com/oakmere/fleettrack/internal/monitoring"
	"github.com/oakmere/fleettrack/internal/trip"
)

// Publisher is a broadcast bus seen from the producer side.
type Publisher interface {
	Add(payload []byte)
}

// datagram is one received packet queued for a worker.
type datagram struct {
	data   []byte
	sender string
}

// Supervisor owns the UDP socket and the worker pool that runs each datagram
// through parse, normalize, validate, geofence, trip detection and the store.
// It survives any single bad datagram.
type Supervisor struct {
	store    *db.DB
	engine   *geofence.Engine
	detector *trip.Detector
	gpsBus   Publisher
	logBus   Publisher
	cfg      *config.Config

	// Per-device locks serialize the read-evaluate-write cycle so two
	// datagrams from the same tracker cannot interleave between loading the
	// previous fix and persisting the new one.
	lockMu      sync.Mutex
	deviceLocks map[string]*sync.Mutex
}

// NewSupervisor wires the ingestion pipeline. gpsBus and logBus may be nil
// when the broadcaster is disabled.
func NewSupervisor(store *db.DB, engine *geofence.Engine, detector *trip.Detector,
	gpsBus, logBus Publisher, cfg *config.Config) *Supervisor {
	return &Supervisor{
		store:       store,
		engine:      engine,
		detector:    detector,
		gpsBus:      gpsBus,
		logBus:      logBus,
		cfg:         cfg,
		deviceLocks: make(map[string]*sync.Mutex),
	}
}

// Run listens for datagrams until ctx is cancelled. workers sets the size of
// the processing pool; values below 1 run a single worker.
func (s *Supervisor) Run(ctx context.Context, workers int) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.UDPListen)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.cfg.UDPListen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(s.cfg.UDPRcvBuf); err != nil {
		monitoring.Logf("failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)",
			s.cfg.UDPRcvBuf, err)
	}
	monitoring.Logf("UDP ingestion listening on %s", conn.LocalAddr())

	if workers < 1 {
		workers = 1
	}
	jobs := make(chan datagram, 4*workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				s.ProcessDatagram(d.data, d.sender)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	buffer := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP ingestion shutting down")
			return ctx.Err()
		default:
			// Short read deadline so context cancellation is noticed.
			if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
				monitoring.Logf("failed to set read deadline: %v", err)
				continue
			}
			n, clientAddr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				monitoring.Logf("UDP read error: %v", err)
				continue
			}

			// The read buffer is reused; workers get their own copy.
			data := make([]byte, n)
			copy(data, buffer[:n])
			jobs <- datagram{data: data, sender: clientAddr.String()}
		}
	}
}

// ProcessDatagram runs the full pipeline for one packet. Every failure is
// terminal for the datagram but never for the supervisor.
func (s *Supervisor) ProcessDatagram(data []byte, sender string) {
	rec, err := ParseDatagram(data, sender)
	if err != nil {
		monitoring.Logf("dropped datagram: %v", err)
		return
	}

	gps, rawAccel, err := Normalize(rec)
	if err != nil {
		monitoring.Logf("dropped datagram from %s: %v", sender, err)
		return
	}

	if _, err := CheckDevice(s.store, gps.DeviceID, sender); err != nil {
		return
	}
	if err := ValidateRecord(gps); err != nil {
		monitoring.Logf("dropped fix from %s: %v", gps.DeviceID, err)
		return
	}

	var accel *db.AccelWindow
	if rawAccel != nil {
		accel, err = ValidateAccel(gps.DeviceID, gps.Timestamp, rawAccel)
		if err != nil {
			// The accel block is optional extra telemetry; the fix proceeds.
			monitoring.Logf("discarded accel block from %s: %v", gps.DeviceID, err)
		}
	}

	lock := s.deviceLock(gps.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.store.PreviousFix(gps.DeviceID)
	if err != nil {
		monitoring.Logf("dropped fix from %s: %v", gps.DeviceID, err)
		return
	}
	if prev != nil && prev.Timestamp.UnixMicro() == gps.Timestamp.UnixMicro() {
		// Replay of the latest datagram. Dropping here keeps the trip
		// detector's still counter out of reach of duplicates; the store
		// would reject the fix anyway.
		return
	}

	geo := s.engine.Evaluate(gps.DeviceID, gps.Latitude, gps.Longitude, gps.Timestamp, prev)

	tripID, _, err := s.detector.Process(gps.DeviceID, gps.Latitude, gps.Longitude, gps.Timestamp)
	if err != nil {
		monitoring.Logf("trip detection failed for %s: %v", gps.DeviceID, err)
		// The fix is still worth keeping, just without a trip association.
		tripID = nil
	}

	fix := &db.GpsFix{
		DeviceID:      gps.DeviceID,
		Latitude:      gps.Latitude,
		Longitude:     gps.Longitude,
		Altitude:      gps.Altitude,
		Accuracy:      gps.Accuracy,
		Timestamp:     gps.Timestamp,
		TripID:        tripID,
		GeofenceID:    geo.GeofenceID,
		GeofenceName:  geo.GeofenceName,
		GeofenceEvent: geo.Event,
	}

	gpsSaved, _, err := s.store.RecordFix(fix, accel, geo.ArtificialExit)
	if err != nil {
		monitoring.Logf("failed to persist fix from %s: %v", gps.DeviceID, err)
		return
	}
	if !gpsSaved {
		// Expected UDP replay; everything was rolled back.
		return
	}

	s.publish(fix, prev, geo)
}

// publish emits the persisted fix on the gps bus and any entry/exit
// transition on the log bus. Inside events stay on the fix only.
func (s *Supervisor) publish(fix *db.GpsFix, prev *db.GpsFix, geo geofence.Result) {
	if s.gpsBus != nil {
		out := fix
		if geo.Event != nil && *geo.Event == db.GeofenceExit && fix.GeofenceID == nil && prev != nil {
			// The persisted exit row has null fence fields; the wire frame
			// names the fence that was left.
			enriched := *fix
			enriched.GeofenceID = prev.GeofenceID
			enriched.GeofenceName = prev.GeofenceName
			out = &enriched
		}
		if payload := broadcast.EncodeFix(out); payload != nil {
			s.gpsBus.Add(payload)
		}
	}
	if s.logBus == nil || geo.Event == nil {
		return
	}

	switch *geo.Event {
	case db.GeofenceEntry:
		if geo.ArtificialExit != nil && geo.ArtificialExit.GeofenceName != nil {
			s.logBus.Add([]byte(fmt.Sprintf("%s EXITED %s", fix.DeviceID, *geo.ArtificialExit.GeofenceName)))
		}
		if geo.GeofenceName != nil {
			s.logBus.Add([]byte(fmt.Sprintf("%s ENTERED %s", fix.DeviceID, *geo.GeofenceName)))
		}
	case db.GeofenceExit:
		name := "geofence"
		if prev != nil && prev.GeofenceName != nil {
			name = *prev.GeofenceName
		}
		s.logBus.Add([]byte(fmt.Sprintf("%s EXITED %s", fix.DeviceID, name)))
	}
}

func (s *Supervisor) deviceLock(deviceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.deviceLocks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.deviceLocks[deviceID] = lock
	}
	return lock
}
