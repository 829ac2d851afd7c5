package ssh

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalKexInit(t *testing.T) {
	in := &KexInitMsg{
		KexAlgos:                []string{kexAlgoCurve25519SHA256},
		ServerHostKeyAlgos:      []string{KeyAlgoED25519},
		CiphersClientServer:     defaultCiphers,
		CiphersServerClient:     defaultCiphers,
		MACsClientServer:        defaultMACs,
		MACsServerClient:        defaultMACs,
		CompressionClientServer: defaultCompressions,
		CompressionServerClient: defaultCompressions,
	}
	in.Cookie[0] = 0x42

	packet := Marshal(in)
	require.Equal(t, byte(msgKexInit), packet[0])

	var out KexInitMsg
	require.NoError(t, Unmarshal(packet, &out))
	require.Equal(t, in.Cookie, out.Cookie)
	require.Equal(t, in.KexAlgos, out.KexAlgos)
	require.Equal(t, in.CiphersClientServer, out.CiphersClientServer)
}

func TestMarshalUnmarshalUserAuthRequest(t *testing.T) {
	in := &userAuthRequestMsg{User: "alice", Service: "ssh-connection", Method: "password", Payload: []byte{0, 0, 0, 0}}
	packet := Marshal(in)

	var out userAuthRequestMsg
	require.NoError(t, Unmarshal(packet, &out))
	require.Equal(t, in.User, out.User)
	require.Equal(t, in.Service, out.Service)
	require.Equal(t, in.Method, out.Method)
	require.Equal(t, in.Payload, out.Payload)
}

func TestUnmarshalWrongMessageNumber(t *testing.T) {
	packet := Marshal(&userAuthSuccessMsg{})
	err := Unmarshal(packet, &userAuthFailureMsg{})
	require.Error(t, err)
}

func TestAppendMPIntPadsHighBit(t *testing.T) {
	k := big.NewInt(0x80)
	buf := appendMPInt(nil, k)
	// length(4) + pad byte + 1 value byte = 6
	require.Len(t, buf, 6)
	require.Equal(t, byte(0), buf[4])
	require.Equal(t, byte(0x80), buf[5])
}

func TestParseNameList(t *testing.T) {
	buf := appendNameList(nil, []string{"a", "bb", "ccc"})
	list, rest, ok := parseNameList(buf)
	require.True(t, ok)
	require.Empty(t, rest)
	require.Equal(t, []string{"a", "bb", "ccc"}, list)
}

func TestParseNameListEmpty(t *testing.T) {
	buf := appendNameList(nil, nil)
	list, _, ok := parseNameList(buf)
	require.True(t, ok)
	require.Empty(t, list)
}
