package probe

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRewriteLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		address  string
		want     string
	}{
		{
			name:     "nat address rewritten",
			location: "http://10.0.0.5:80/desc.xml",
			address:  "203.0.113.9",
			want:     "http://203.0.113.9:80/desc.xml",
		},
		{
			name:     "no port",
			location: "http://192.168.1.50/setup.xml",
			address:  "203.0.113.9",
			want:     "http://203.0.113.9/setup.xml",
		},
		{
			name:     "query preserved",
			location: "https://10.1.1.1:8443/root.xml?v=2",
			address:  "198.51.100.7",
			want:     "https://198.51.100.7:8443/root.xml?v=2",
		},
		{
			name:     "unparseable kept as-is",
			location: "://not-a-url",
			address:  "203.0.113.9",
			want:     "://not-a-url",
		},
		{
			name:     "hostless kept as-is",
			location: "desc.xml",
			address:  "203.0.113.9",
			want:     "desc.xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteLocation(tt.location, tt.address); got != tt.want {
				t.Errorf("rewriteLocation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractLocation(t *testing.T) {
	tests := []struct {
		name     string
		datagram string
		want     string
	}{
		{
			name:     "upper case header",
			datagram: "HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.5:80/desc.xml\r\n\r\n",
			want:     "http://10.0.0.5:80/desc.xml",
		},
		{
			name:     "mixed case header",
			datagram: "HTTP/1.1 200 OK\r\nLocation:http://10.0.0.5/d.xml\r\n\r\n",
			want:     "http://10.0.0.5/d.xml",
		},
		{
			name:     "no location header",
			datagram: "HTTP/1.1 200 OK\r\nST: upnp:rootdevice\r\n\r\n",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractLocation([]byte(tt.datagram)); got != tt.want {
				t.Errorf("extractLocation() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSameHost(t *testing.T) {
	if !sameHost(net.ParseIP("203.0.113.9"), "203.0.113.9") {
		t.Error("matching address rejected")
	}
	if sameHost(net.ParseIP("203.0.113.10"), "203.0.113.9") {
		t.Error("foreign source accepted")
	}
}

func TestSSDPProber_Discover(t *testing.T) {
	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer device.Close()

	go func() {
		buf := make([]byte, 2048)
		n, raddr, err := device.ReadFromUDP(buf)
		if err != nil {
			return
		}
		request := string(buf[:n])
		if !strings.HasPrefix(request, "M-SEARCH * HTTP/1.1\r\n") {
			return
		}
		// the HOST header names the multicast group even for unicast probes
		if !strings.Contains(request, "HOST: 239.255.255.250:1900\r\n") {
			return
		}
		reply := "HTTP/1.1 200 OK\r\n" +
			"CACHE-CONTROL: max-age=1800\r\n" +
			"LOCATION: http://10.0.0.5:80/desc.xml\r\n" +
			"ST: upnp:rootdevice\r\n\r\n"
		device.WriteToUDP([]byte(reply), raddr)
	}()

	prober := NewSSDPProber(zerolog.Nop())
	target := Target{
		Address: "127.0.0.1",
		Port:    device.LocalAddr().(*net.UDPAddr).Port,
		Timeout: 500 * time.Millisecond,
	}
	result := prober.Discover(context.Background(), target)

	if !result.Found {
		t.Fatal("expected discovery from replying device")
	}
	locations, ok := result.Details["locations"].([]string)
	if !ok || len(locations) != 1 {
		t.Fatalf("locations = %v", result.Details["locations"])
	}
	if locations[0] != "http://127.0.0.1:80/desc.xml" {
		t.Errorf("location = %q, want host rewritten to probed address", locations[0])
	}
}

func TestSSDPProber_SilentTargetReturnsWithinTimeout(t *testing.T) {
	prober := NewSSDPProber(zerolog.Nop())
	target := Target{Address: "127.0.0.1", Port: reservedPort(t), Timeout: 300 * time.Millisecond}

	start := time.Now()
	result := prober.Discover(context.Background(), target)
	elapsed := time.Since(start)

	if result.Found {
		t.Error("expected non-discovery against silent target")
	}
	if elapsed > 2*time.Second {
		t.Errorf("probe took %v, want bounded by timeout plus slack", elapsed)
	}
}

func TestSSDPProber_Idempotent(t *testing.T) {
	device, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer device.Close()

	go func() {
		buf := make([]byte, 2048)
		for {
			_, raddr, err := device.ReadFromUDP(buf)
			if err != nil {
				return
			}
			reply := "HTTP/1.1 200 OK\r\nLOCATION: http://10.0.0.5:80/desc.xml\r\n\r\n"
			device.WriteToUDP([]byte(reply), raddr)
		}
	}()

	prober := NewSSDPProber(zerolog.Nop())
	target := Target{
		Address: "127.0.0.1",
		Port:    device.LocalAddr().(*net.UDPAddr).Port,
		Timeout: 400 * time.Millisecond,
	}

	first := prober.Discover(context.Background(), target)
	second := prober.Discover(context.Background(), target)

	if first.Found != second.Found {
		t.Fatalf("found differs between identical calls: %v vs %v", first.Found, second.Found)
	}
	a := first.Details["locations"].([]string)
	b := second.Details["locations"].([]string)
	if len(a) != len(b) || a[0] != b[0] {
		t.Errorf("details differ between identical calls: %v vs %v", a, b)
	}
}
