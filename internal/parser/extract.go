// Package parser turns captured packets into the addressing context the
// conversation engine correlates on. It reads layer metadata only; no
// payload parsing happens here.
package parser

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"convtrack/internal/conversation"
	"convtrack/internal/convkey"
)

// ExtractPacketInfo builds the per-packet context for conversation
// tracking. ok is false when the packet has no network layer to key on.
func ExtractPacketInfo(pkt gopacket.Packet, frame uint32) (*conversation.PacketInfo, bool) {
	info := &conversation.PacketInfo{Frame: frame}
	var hasNet bool

	// Ethernet
	if ethLayer := pkt.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth := ethLayer.(*layers.Ethernet)
		info.LinkSrc = layers.NewMACEndpoint(eth.SrcMAC)
		info.LinkDst = layers.NewMACEndpoint(eth.DstMAC)
	}

	// 802.1Q
	if dot1qLayer := pkt.Layer(layers.LayerTypeDot1Q); dot1qLayer != nil {
		dot1q := dot1qLayer.(*layers.Dot1Q)
		info.VLANID = uint32(dot1q.VLANIdentifier)
	}

	// IPv4
	if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
		ip4 := ip4Layer.(*layers.IPv4)
		info.Src = layers.NewIPEndpoint(ip4.SrcIP)
		info.Dst = layers.NewIPEndpoint(ip4.DstIP)
		hasNet = true
	}

	// IPv6
	if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		ip6 := ip6Layer.(*layers.IPv6)
		info.Src = layers.NewIPEndpoint(ip6.SrcIP)
		info.Dst = layers.NewIPEndpoint(ip6.DstIP)
		hasNet = true
	}

	// TCP
	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		info.SrcPort = uint32(tcp.SrcPort)
		info.DstPort = uint32(tcp.DstPort)
		info.Kind = convkey.KindTCP
	}

	// UDP
	if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		info.SrcPort = uint32(udp.SrcPort)
		info.DstPort = uint32(udp.DstPort)
		info.Kind = convkey.KindUDP
	}

	// SCTP
	if sctpLayer := pkt.Layer(layers.LayerTypeSCTP); sctpLayer != nil {
		sctp := sctpLayer.(*layers.SCTP)
		info.SrcPort = uint32(sctp.SrcPort)
		info.DstPort = uint32(sctp.DstPort)
		info.Kind = convkey.KindSCTP
	}

	if md := pkt.Metadata(); md != nil && md.CaptureInfo.InterfaceIndex >= 0 {
		info.HasInterface = true
		info.InterfaceID = uint32(md.CaptureInfo.InterfaceIndex)
	}

	return info, hasNet
}
