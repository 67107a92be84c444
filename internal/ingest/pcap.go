//go:build pcap
// +build pcap

package ingest

import (
	"context"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/sitewatch-data/ppe.report/internal/monitoring"
)

// ReplayPCAP reads frame messages captured from the live detection stream
// and feeds them to the handler in capture order. Only UDP payloads on
// udpPort are considered; malformed payloads are counted and skipped.
// This function is only available when building with the 'pcap' build tag.
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, handler MessageHandler) error {
	handle, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", pcapFile, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", udpPort)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return fmt.Errorf("failed to set BPF filter %q: %w", filterStr, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets, malformed := 0, 0

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("PCAP replay stopping (processed %d packets)", packets)
			return ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				monitoring.Logf("PCAP replay complete: %d packets, %d malformed", packets, malformed)
				return nil
			}

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			packets++

			msg, err := ParseFrameMessage(udpLayer.(*layers.UDP).Payload)
			if err != nil {
				malformed++
				continue
			}
			if err := handler.Accept(msg); err != nil {
				monitoring.Logf("PCAP replay: dropping frame %d: %v", msg.FrameIndex, err)
			}
		}
	}
}
