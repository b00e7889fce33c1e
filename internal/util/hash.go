package util

import (
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

// EndpointIDLength is the length of IDs produced by EndpointIDFromConn.
const EndpointIDLength = 4

// EndpointIDFromConn derives a short base-36 endpoint ID from a connection's
// address pair and a salt. The salt keeps IDs distinct across reconnects
// from the same address; collisions are resolved by the caller.
func EndpointIDFromConn(conn net.Conn, salt string) string {
	h := fnv.New32a()
	h.Write([]byte(conn.LocalAddr().String()))
	h.Write([]byte(conn.RemoteAddr().String()))
	h.Write([]byte(salt))

	id := strconv.FormatUint(uint64(h.Sum32()%(36*36*36*36)), 36)
	return strings.ToUpper(strings.Repeat("0", EndpointIDLength-len(id)) + id)
}
