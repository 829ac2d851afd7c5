// Package metrics exposes the prometheus collectors that instrument the
// lib/ssh transport and authentication engine: rekey counts, bytes
// transferred and ssh-userauth outcomes. None of this is part of the
// protocol itself; it is the ambient observability layer a long-running
// probe or server needs in order to be operable.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Rekeys counts every completed key exchange, including the first,
	// split by the local Session's side ("client" or "server").
	Rekeys = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assh",
		Name:      "rekeys_total",
		Help:      "Key exchanges completed, including the initial one.",
	}, []string{"side"})

	// BytesTransferred counts packet-layer payload bytes, pre-padding,
	// per direction.
	BytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assh",
		Name:      "bytes_total",
		Help:      "Packet payload bytes sent or received.",
	}, []string{"direction"})

	// PacketsTransferred mirrors BytesTransferred at packet granularity.
	PacketsTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assh",
		Name:      "packets_total",
		Help:      "Packets sent or received.",
	}, []string{"direction"})

	// AuthAttempts counts ssh-userauth USERAUTH_REQUESTs by method and
	// outcome ("success", "failure", "continue").
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assh",
		Name:      "userauth_attempts_total",
		Help:      "ssh-userauth attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// Disconnects counts session terminations by who disconnected and
	// the RFC 4253 reason code, formatted as a decimal string.
	Disconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assh",
		Name:      "disconnects_total",
		Help:      "Session terminations by initiator and reason code.",
	}, []string{"by", "reason"})
)

func init() {
	prometheus.MustRegister(Rekeys, BytesTransferred, PacketsTransferred, AuthAttempts, Disconnects)
}
