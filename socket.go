package swarm

import (
	"context"
	"net"
	"strconv"
)

type dialer interface {
	dial(_ context.Context, addr string) (net.Conn, error)
}

type socket interface {
	net.Listener
	dialer
}

func listenTcp(network, address string) (s socket, err error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return
	}
	return tcpSocket{l, &net.Dialer{}, network}, nil
}

type tcpSocket struct {
	net.Listener
	d       *net.Dialer
	network string
}

func (me tcpSocket) dial(ctx context.Context, addr string) (net.Conn, error) {
	return me.d.DialContext(ctx, me.network, addr)
}

func listenAddr(cfg *Config, network string) string {
	return net.JoinHostPort(cfg.ListenHost(network), strconv.Itoa(cfg.ListenPort))
}
