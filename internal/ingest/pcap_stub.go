//go:build !pcap
// +build !pcap

package ingest

import (
	"context"
	"fmt"
)

// ReplayPCAP is unavailable without the 'pcap' build tag (it needs libpcap).
func ReplayPCAP(ctx context.Context, pcapFile string, udpPort int, handler MessageHandler) error {
	return fmt.Errorf("pcap support not built in; rebuild with -tags pcap")
}
