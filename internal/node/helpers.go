package node

import (
	"encoding/base64"
	"net"
)

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

func encodePubKey(pub [32]byte) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}
