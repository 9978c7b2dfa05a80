package tunnel

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe summarizes an IP datagram for logs, e.g.
// "10.0.0.1:5353 -> 10.0.0.2:53 UDP len=61".
func Describe(datagram []byte) string {
	if len(datagram) == 0 {
		return "empty datagram"
	}

	var first gopacket.LayerType
	switch datagram[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return fmt.Sprintf("non-IP datagram len=%d", len(datagram))
	}

	pkt := gopacket.NewPacket(datagram, first, gopacket.Lazy|gopacket.NoCopy)

	var src, dst, proto string
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, dst, proto = ip.SrcIP.String(), ip.DstIP.String(), ip.Protocol.String()
	case *layers.IPv6:
		src, dst, proto = ip.SrcIP.String(), ip.DstIP.String(), ip.NextHeader.String()
	default:
		return fmt.Sprintf("truncated IP datagram len=%d", len(datagram))
	}

	switch l4 := pkt.TransportLayer().(type) {
	case *layers.TCP:
		return fmt.Sprintf("%s:%d -> %s:%d TCP len=%d", src, l4.SrcPort, dst, l4.DstPort, len(datagram))
	case *layers.UDP:
		return fmt.Sprintf("%s:%d -> %s:%d UDP len=%d", src, l4.SrcPort, dst, l4.DstPort, len(datagram))
	}
	if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		return fmt.Sprintf("%s -> %s ICMP %s len=%d", src, dst, icmp.TypeCode, len(datagram))
	}
	return fmt.Sprintf("%s -> %s %s len=%d", src, dst, proto, len(datagram))
}
