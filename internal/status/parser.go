// Package status reads the tunnel daemon's periodic status file.
package status

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Section markers
const (
	markerClients = "CLIENT_LIST"
	markerRoutes  = "ROUTING_TABLE"
	markerStats   = "GLOBAL_STATS"
	markerEnd     = "END"
)

// Minimum field counts per section
const (
	clientFields = 6
	routeFields  = 4
	statFields   = 2
)

var headerPrefixes = []string{"Updated", "Common Name", "Virtual Address"}

// Client is one connected client
type Client struct {
	CommonName     string `json:"common_name"`
	RealAddress    string `json:"real_address"`
	VirtualAddress string `json:"virtual_address"`
	BytesReceived  int64  `json:"bytes_received"`
	BytesSent      int64  `json:"bytes_sent"`
	ConnectedSince string `json:"connected_since"`
}

// Route is one routing table entry
type Route struct {
	VirtualAddress string `json:"virtual_address"`
	CommonName     string `json:"common_name"`
	RealAddress    string `json:"real_address"`
	LastReferenced string `json:"last_referenced"`
}

// Snapshot is a parsed status file. The collections are never nil.
type Snapshot struct {
	Clients     []Client          `json:"clients"`
	Routes      []Route           `json:"routing_table"`
	GlobalStats map[string]string `json:"global_stats"`
}

// Empty returns a snapshot with empty collections
func Empty() *Snapshot {
	return &Snapshot{
		Clients:     []Client{},
		Routes:      []Route{},
		GlobalStats: map[string]string{},
	}
}

type section int

const (
	sectionNone section = iota
	sectionClients
	sectionRoutes
	sectionStats
)

// Parse decodes a status snapshot. Rows with too few fields or unparsable
// byte counters are dropped. A read error ends the scan and whatever was
// decoded so far is returned along with it.
func Parse(r io.Reader) (*Snapshot, error) {
	snap := Empty()
	cur := sectionNone

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, markerClients):
			cur = sectionClients
			continue
		case strings.HasPrefix(line, markerRoutes):
			cur = sectionRoutes
			continue
		case strings.HasPrefix(line, markerStats):
			cur = sectionStats
			continue
		case line == markerEnd:
			return snap, nil
		case isHeader(line):
			continue
		}

		parts := strings.Split(line, ",")

		switch cur {
		case sectionClients:
			if c, ok := parseClient(parts); ok {
				snap.Clients = append(snap.Clients, c)
			}
		case sectionRoutes:
			if len(parts) >= routeFields {
				snap.Routes = append(snap.Routes, Route{
					VirtualAddress: parts[0],
					CommonName:     parts[1],
					RealAddress:    parts[2],
					LastReferenced: parts[3],
				})
			}
		case sectionStats:
			if len(parts) >= statFields {
				snap.GlobalStats[parts[0]] = parts[1]
			}
		}
	}

	return snap, scanner.Err()
}

func parseClient(parts []string) (Client, bool) {
	if len(parts) < clientFields {
		return Client{}, false
	}

	received, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
	if err != nil {
		return Client{}, false
	}
	sent, err := strconv.ParseInt(strings.TrimSpace(parts[4]), 10, 64)
	if err != nil {
		return Client{}, false
	}

	return Client{
		CommonName:     parts[0],
		RealAddress:    parts[1],
		VirtualAddress: parts[2],
		BytesReceived:  received,
		BytesSent:      sent,
		ConnectedSince: parts[5],
	}, true
}

func isHeader(line string) bool {
	for _, p := range headerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// FileSource reads snapshots from the daemon's status file
type FileSource struct {
	path string
	log  logrus.FieldLogger
}

// NewFileSource creates a status source for the given path
func NewFileSource(path string, log logrus.FieldLogger) *FileSource {
	return &FileSource{path: path, log: log}
}

// Path returns the status file location
func (s *FileSource) Path() string {
	return s.path
}

// Snapshot parses the status file. It never fails: an unreadable file
// yields an empty snapshot and a warning in the log. A done ctx also yields
// an empty snapshot without touching the file.
func (s *FileSource) Snapshot(ctx context.Context) *Snapshot {
	if ctx.Err() != nil {
		return Empty()
	}
	start := time.Now()

	f, err := os.Open(s.path)
	if err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("status file unreadable, returning empty snapshot")
		return Empty()
	}
	defer f.Close()

	snap, err := Parse(f)
	if err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("status file read failed, returning empty snapshot")
		return Empty()
	}

	s.log.WithFields(logrus.Fields{
		"clients":  len(snap.Clients),
		"routes":   len(snap.Routes),
		"duration": time.Since(start),
	}).Debug("status file parsed")

	return snap
}
