package tuf

import (
	"errors"
	"net"
	"net/url"
)

func isTransport(err error) bool {
	var (
		urlErr *url.Error
		netErr net.Error
		opErr  *net.OpError
	)
	return errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.As(err, &opErr)
}
