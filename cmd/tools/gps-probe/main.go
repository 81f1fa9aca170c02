// gps-probe sends synthetic tracker datagrams at the ingestion endpoint. It
// walks a device along a line at a fixed cadence, which is enough to exercise
// trip detection, geofence transitions and the live observer stream during
// development.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"
)

func main() {
	var (
		target   = flag.String("target", "127.0.0.1:9001", "UDP ingestion address")
		deviceID = flag.String("device", "D1", "device id to send as")
		lat      = flag.Float64("lat", 52.2053, "start latitude")
		lon      = flag.Float64("lon", 0.1218, "start longitude")
		stepM    = flag.Float64("step", 100, "meters moved east per datagram (0 to stand still)")
		interval = flag.Duration("interval", 5*time.Second, "send cadence")
		count    = flag.Int("count", 0, "number of datagrams to send (0 = forever)")
		accel    = flag.Bool("accel", false, "attach a synthetic accelerometer window")
	)
	flag.Parse()

	conn, err := net.Dial("udp", *target)
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *target, err)
	}
	defer conn.Close()

	// Rough meters-to-degrees at mid latitudes; precision doesn't matter for
	// a probe.
	stepDeg := *stepM / 111320.0

	curLon := *lon
	for i := 0; *count == 0 || i < *count; i++ {
		now := time.Now().UTC()
		payload := fmt.Sprintf(
			`{"device_id":%q,"latitude":%.6f,"longitude":%.6f,"accuracy":5,"timestamp":%q`,
			*deviceID, *lat, curLon, now.Format(time.RFC3339))
		if *accel {
			payload += fmt.Sprintf(
				`,"accel":{"ts_start":%q,"ts_end":%q,`+
					`"rms":{"x":0.12,"y":0.08,"z":9.79,"mag":9.80},`+
					`"max":{"x":0.9,"y":0.7,"z":10.4,"mag":10.5},`+
					`"peaks_count":2,"sample_count":250,"flags":0}`,
				now.Add(-5*time.Second).Format(time.RFC3339), now.Format(time.RFC3339))
		}
		payload += "}"

		if _, err := conn.Write([]byte(payload)); err != nil {
			log.Fatalf("send failed: %v", err)
		}
		log.Printf("sent fix %d at (%.6f, %.6f)", i+1, *lat, curLon)

		curLon += stepDeg
		if *count == 0 || i < *count-1 {
			time.Sleep(*interval)
		}
	}
}
