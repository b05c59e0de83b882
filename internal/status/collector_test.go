package status

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snap *Snapshot
}

func (s staticSource) Snapshot(context.Context) *Snapshot { return s.snap }

func TestCollector(t *testing.T) {
	snap, err := Parse(strings.NewReader(sampleStatus))
	require.NoError(t, err)

	c := NewCollector(staticSource{snap: snap})

	expected := `
# HELP vpnaccess_connected_clients Number of clients listed in the status file.
# TYPE vpnaccess_connected_clients gauge
vpnaccess_connected_clients 1
# HELP vpnaccess_client_bytes_received_total Bytes received from a connected client.
# TYPE vpnaccess_client_bytes_received_total counter
vpnaccess_client_bytes_received_total{common_name="user42"} 18234
# HELP vpnaccess_global_stat Numeric global statistics reported by the daemon.
# TYPE vpnaccess_global_stat gauge
vpnaccess_global_stat{name="Max bcast/mcast queue length"} 3
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"vpnaccess_connected_clients",
		"vpnaccess_client_bytes_received_total",
		"vpnaccess_global_stat",
	)
	assert.NoError(t, err)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector(staticSource{snap: Empty()})

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	// connected_clients and routes only
	assert.Equal(t, 2, testutil.CollectAndCount(c))
}
