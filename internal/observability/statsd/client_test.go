package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenUDP returns a local UDP listener plus a channel of received datagrams.
func listenUDP(t *testing.T) (string, <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	lines := make(chan string, 16)
	go func() {
		buf := make([]byte, 1024)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			lines <- string(buf[:n])
		}
	}()
	return conn.LocalAddr().String(), lines
}

func receiveLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram received")
		return ""
	}
}

func TestClientEmits(t *testing.T) {
	t.Parallel()

	addr, lines := listenUDP(t)
	client, err := NewClient(Config{
		Enabled:    true,
		Address:    addr,
		Prefix:     "listpilot",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	require.True(t, client.Enabled())

	client.Count("task.settled", 1, map[string]string{"status": "submitted"})
	assert.Equal(t, "listpilot.task.settled:1|c|#env:test,status:submitted", receiveLine(t, lines))

	client.Gauge("queue.depth", 12, nil)
	assert.Equal(t, "listpilot.queue.depth:12|g|#env:test", receiveLine(t, lines))

	client.Timing("task.duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "listpilot.task.duration:1500|ms|#env:test", receiveLine(t, lines))
}

func TestClientDisabledSwallowsEmits(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	// Emits on a disabled client never panic and never dial.
	client.Count("task.settled", 1, nil)
	client.Gauge("queue.depth", 1, nil)
	client.Timing("task.duration", time.Second, nil)
	assert.NoError(t, client.Close())
}

func TestClientNilReceiver(t *testing.T) {
	t.Parallel()

	var client *Client
	client.Count("x", 1, nil)
	client.Gauge("x", 1, nil)
	client.Timing("x", time.Second, nil)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		global map[string]string
		local  map[string]string
		want   string
	}{
		{"no tags", nil, nil, ""},
		{"global only", map[string]string{"env": "test"}, nil, "|#env:test"},
		{"local only", nil, map[string]string{"status": "failed"}, "|#status:failed"},
		{
			"sorted merge",
			map[string]string{"env": "test"},
			map[string]string{"status": "failed", "component": "task"},
			"|#component:task,env:test,status:failed",
		},
		{
			"local overrides global",
			map[string]string{"env": "test"},
			map[string]string{"env": "ci"},
			"|#env:ci",
		},
		{"bare tag without value", nil, map[string]string{"canary": ""}, "|#canary"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatTags(tt.global, tt.local))
		})
	}
}

func TestMetricName(t *testing.T) {
	t.Parallel()

	withPrefix := &Client{prefix: "listpilot"}
	assert.Equal(t, "listpilot.queue.depth", withPrefix.metricName("queue.depth"))
	assert.Equal(t, "listpilot.queue.depth", withPrefix.metricName(" .queue.depth. "))
	assert.Equal(t, "", withPrefix.metricName(""))

	bare := &Client{}
	assert.Equal(t, "queue.depth", bare.metricName("queue.depth"))
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12", formatFloat(12))
	assert.Equal(t, "0.5", formatFloat(0.5))
	assert.Equal(t, "1500.25", formatFloat(1500.25))
}
