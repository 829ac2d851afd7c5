package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserAuthNoneSucceeds(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()
	hostKey := generateHostKey(t)

	serverResult := make(chan string, 1)
	serverErr := make(chan error, 1)
	go func() {
		s, err := NewServerSession(serverConn, &ServerConfig{HostKeys: []Signer{hostKey}})
		if err != nil {
			serverErr <- err
			return
		}
		svc, err := ServeUserAuth(s, &ServerAuth{None: func(string) (bool, error) { return true, nil }})
		serverResult <- svc
		serverErr <- err
	}()

	client, err := NewAuthenticatedClientSession(clientConn, &ClientConfig{User: "alice"})
	require.NoError(t, err)
	require.NotNil(t, client)

	require.NoError(t, <-serverErr)
	require.Equal(t, serviceSSH, <-serverResult)
}

func TestUserAuthPasswordSucceedsAfterNoneRejected(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()
	hostKey := generateHostKey(t)

	serverErr := make(chan error, 1)
	go func() {
		s, err := NewServerSession(serverConn, &ServerConfig{HostKeys: []Signer{hostKey}})
		if err != nil {
			serverErr <- err
			return
		}
		_, err = ServeUserAuth(s, &ServerAuth{
			Password: func(user, password string, newPassword *string) (PasswordOutcome, error) {
				if password == "correct-horse" {
					return PasswordOutcome{Result: PasswordAccept}, nil
				}
				return PasswordOutcome{Result: PasswordReject}, nil
			},
		})
		serverErr <- err
	}()

	client, err := NewAuthenticatedClientSession(clientConn, &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{Password("correct-horse")},
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NoError(t, <-serverErr)
}

func TestUserAuthPublickeySucceeds(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()
	hostKey := generateHostKey(t)

	userPub, userPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	userSigner := NewSignerFromKey(userPriv)

	serverErr := make(chan error, 1)
	go func() {
		s, err := NewServerSession(serverConn, &ServerConfig{HostKeys: []Signer{hostKey}})
		if err != nil {
			serverErr <- err
			return
		}
		_, err = ServeUserAuth(s, &ServerAuth{
			Publickey: func(user string, key PublicKey) (bool, error) {
				want := NewPublicKey(userPub)
				return string(key.Marshal()) == string(want.Marshal()), nil
			},
		})
		serverErr <- err
	}()

	client, err := NewAuthenticatedClientSession(clientConn, &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{PublicKeyAuth(userSigner)},
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NoError(t, <-serverErr)
}

func TestUserAuthAllMethodsExhaustedFails(t *testing.T) {
	clientConn, serverConn := tcpPipe(t)
	defer clientConn.Close()
	defer serverConn.Close()
	hostKey := generateHostKey(t)

	serverErr := make(chan error, 1)
	go func() {
		s, err := NewServerSession(serverConn, &ServerConfig{HostKeys: []Signer{hostKey}})
		if err != nil {
			serverErr <- err
			return
		}
		_, err = ServeUserAuth(s, &ServerAuth{
			Password: func(string, string, *string) (PasswordOutcome, error) {
				return PasswordOutcome{Result: PasswordReject}, nil
			},
		})
		serverErr <- err
	}()

	_, err := NewAuthenticatedClientSession(clientConn, &ClientConfig{
		User: "alice",
		Auth: []AuthMethod{Password("wrong")},
	})
	require.ErrorIs(t, err, ErrUserauthFailed)
	<-serverErr
}

func TestMethodSetOrderedInsertion(t *testing.T) {
	auth := &ServerAuth{
		Password:  func(string, string, *string) (PasswordOutcome, error) { return PasswordOutcome{}, nil },
		Publickey: func(string, PublicKey) (bool, error) { return false, nil },
	}
	m := newMethodSet(auth)
	require.Equal(t, []string{"none", "password", "publickey"}, m.names())

	m.remove("password")
	require.Equal(t, []string{"none", "publickey"}, m.names())

	m.add("password")
	require.Equal(t, []string{"none", "publickey", "password"}, m.names())
}
