// Package auth implements the authentication collaborators of the server
// engine. Only transport-level authentication is supported: the peer is
// identified from the channel it connected on.
package auth

import (
	"io"
	"net"
	"os/user"
	"strconv"

	"github.com/RoanBrand/PolicyDaemonProtocol/protocol"
	"github.com/pkg/errors"
)

// ErrNoCredentials is reported when the channel cannot tell who the peer
// is.
var ErrNoCredentials = errors.Wrap(protocol.EOPNOTSUPP, "channel carries no peer credentials")

type authenticator struct {
	ch       protocol.Channel
	done     func(protocol.AuthResult)
	identify func(ch protocol.Channel) (uint32, string, error)
	finished bool
}

func (a *authenticator) Process(m *protocol.Message) error {
	if a.finished {
		return errors.Wrap(protocol.EALREADY, "authentication finished")
	}
	authType, err := protocol.DecodeAuthData(m)
	if err != nil {
		return err
	}
	a.finished = true
	if authType != protocol.AuthTransport {
		log.Warnf("unsupported authentication type %d", authType)
		a.done(protocol.AuthResult{Err: errors.Wrapf(protocol.EPROTONOSUPPORT, "auth type %d", authType)})
		return nil
	}
	uid, name, err := a.identify(a.ch)
	if err != nil {
		log.Warnf("authentication failed: %v", err)
		a.done(protocol.AuthResult{Err: err})
		return nil
	}
	log.Debugf("authenticated uid %d (%s)", uid, name)
	a.done(protocol.AuthResult{UID: uid, Name: name})
	return nil
}

func (a *authenticator) Close() {}

// Static identifies every peer as uid and name.
func Static(uid uint32, name string) protocol.AuthFactory {
	return func(ch protocol.Channel, done func(protocol.AuthResult)) protocol.Authenticator {
		return &authenticator{ch: ch, done: done, identify: func(protocol.Channel) (uint32, string, error) {
			return uid, name, nil
		}}
	}
}

// PeerCred identifies the peer of a unix domain socket by the credentials
// the kernel recorded when it connected.
func PeerCred() protocol.AuthFactory {
	return func(ch protocol.Channel, done func(protocol.AuthResult)) protocol.Authenticator {
		return &authenticator{ch: ch, done: done, identify: identifyPeer}
	}
}

type streamConn interface {
	Conn() io.ReadWriteCloser
}

func identifyPeer(ch protocol.Channel) (uint32, string, error) {
	sc, ok := ch.(streamConn)
	if !ok {
		return 0, "", ErrNoCredentials
	}
	conn, ok := sc.Conn().(*net.UnixConn)
	if !ok {
		return 0, "", ErrNoCredentials
	}
	uid, err := peerUID(conn)
	if err != nil {
		return 0, "", err
	}
	return uid, userName(uid), nil
}

// userName resolves uid, falling back to its decimal form.
func userName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	u, err := user.LookupId(id)
	if err != nil {
		return id
	}
	return u.Username
}
