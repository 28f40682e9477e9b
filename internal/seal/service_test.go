package seal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/nacl/box"

	"liaison/internal/domain"
	dErrors "liaison/pkg/domain-errors"
)

func testService(t *testing.T) *Service {
	t.Helper()
	keys, err := GenerateKeypair()
	require.NoError(t, err)
	return New(keys)
}

func counterpartyWithKeys(t *testing.T) (domain.Counterparty, Keypair) {
	t.Helper()
	keys, err := GenerateKeypair()
	require.NoError(t, err)
	cp := domain.Counterparty{
		ID:         "vasp-alpha",
		Name:       "Alpha Digital AG",
		SealingKey: keys.Public[:],
	}
	return cp, keys
}

func TestPrepare_PassthroughUntouched(t *testing.T) {
	svc := testService(t)
	cp, _ := counterpartyWithKeys(t)

	original := domain.SecureEnvelope{
		ExchangeID: "x-1",
		Payload:    []byte("opaque client ciphertext"),
		Sealed:     true,
	}
	env, kit, err := svc.Prepare(domain.Passthrough{Envelope: original}, cp)
	require.NoError(t, err)
	assert.Nil(t, kit)
	assert.Equal(t, original, env)
}

func TestPrepare_CipherResealsUnderCounterpartyKey(t *testing.T) {
	svc := testService(t)
	cp, cpKeys := counterpartyWithKeys(t)

	key := make([]byte, 32)
	secret := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
		secret[i] = byte(255 - i)
	}

	env, kit, err := svc.Prepare(domain.Cipher{
		Envelope: domain.SecureEnvelope{Payload: []byte("client ciphertext")},
		Key:      domain.KeyMaterial{Data: key},
		Secret:   domain.KeyMaterial{Data: secret},
	}, cp)
	require.NoError(t, err)
	defer kit.Close()

	// Counterparty can recover the original key bytes.
	opened, ok := box.OpenAnonymous(nil, env.EncryptedKey, &cpKeys.Public, &cpKeys.Private)
	require.True(t, ok)
	assert.Equal(t, key, opened)
	assert.True(t, env.Sealed)
}

func TestPrepare_CipherUnwrapsGatewaySealedMaterial(t *testing.T) {
	svc := testService(t)
	cp, cpKeys := counterpartyWithKeys(t)

	key := make([]byte, 32)
	key[0] = 7
	gatewayPub := svc.PublicKey()
	sealedKey, err := box.SealAnonymous(nil, key, &gatewayPub, nil)
	require.NoError(t, err)
	sealedSecret, err := box.SealAnonymous(nil, make([]byte, 32), &gatewayPub, nil)
	require.NoError(t, err)

	env, kit, err := svc.Prepare(domain.Cipher{
		Envelope: domain.SecureEnvelope{Payload: []byte("ciphertext")},
		Key:      domain.KeyMaterial{Data: sealedKey, Sealed: true},
		Secret:   domain.KeyMaterial{Data: sealedSecret, Sealed: true},
	}, cp)
	require.NoError(t, err)
	defer kit.Close()

	opened, ok := box.OpenAnonymous(nil, env.EncryptedKey, &cpKeys.Public, &cpKeys.Private)
	require.True(t, ok)
	assert.Equal(t, key, opened)
}

func TestPrepare_CipherRejectsForeignSealedMaterial(t *testing.T) {
	svc := testService(t)
	cp, _ := counterpartyWithKeys(t)

	foreign, err := GenerateKeypair()
	require.NoError(t, err)
	sealed, err := box.SealAnonymous(nil, make([]byte, 32), &foreign.Public, nil)
	require.NoError(t, err)

	_, _, err = svc.Prepare(domain.Cipher{
		Envelope: domain.SecureEnvelope{Payload: []byte("x")},
		Key:      domain.KeyMaterial{Data: sealed, Sealed: true},
		Secret:   domain.KeyMaterial{Data: sealed, Sealed: true},
	}, cp)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
}

func TestPrepare_InformationRoundTrip(t *testing.T) {
	svc := testService(t)
	// The counterparty here is another gateway running the same delegate, so
	// OpenInbound on its side is the natural round-trip check.
	peerKeys, err := GenerateKeypair()
	require.NoError(t, err)
	peer := New(peerKeys)
	cp := domain.Counterparty{ID: "vasp-beta", SealingKey: peerKeys.Public[:]}

	identity := json.RawMessage(`{"originator":{"name":"Ada"}}`)
	txn := json.RawMessage(`{"amount":"1.25","asset":"BTC"}`)

	env, kit, err := svc.Prepare(domain.Information{Identity: identity, Transaction: txn}, cp)
	require.NoError(t, err)
	defer kit.Close()
	assert.True(t, env.Sealed)
	assert.NotEmpty(t, env.EncryptedKey)
	assert.NotEmpty(t, env.HMAC)

	variant, err := peer.OpenInbound(env, domain.KindInformation)
	require.NoError(t, err)
	info, ok := variant.(domain.Information)
	require.True(t, ok)
	assert.JSONEq(t, string(identity), string(info.Identity))
	assert.JSONEq(t, string(txn), string(info.Transaction))
}

func TestPrepare_KeyUnavailable(t *testing.T) {
	svc := testService(t)
	noKey := domain.Counterparty{ID: "vasp-nokey"}

	_, _, err := svc.Prepare(domain.Information{
		Transaction: json.RawMessage(`{"amount":"1"}`),
	}, noKey)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyUnavailable))
}

func TestPrepare_EmptyInformationRejected(t *testing.T) {
	svc := testService(t)
	cp, _ := counterpartyWithKeys(t)

	_, _, err := svc.Prepare(domain.Information{}, cp)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
}

func TestSealReply_KeyDecryptsUnderOriginatorNotCounterparty(t *testing.T) {
	svc := testService(t)
	cp, cpKeys := counterpartyWithKeys(t)
	originator, err := GenerateKeypair()
	require.NoError(t, err)

	original := make([]byte, 32)
	for i := range original {
		original[i] = byte(i * 3)
	}

	_, kit, err := svc.Prepare(domain.Cipher{
		Envelope: domain.SecureEnvelope{Payload: []byte("ciphertext")},
		Key:      domain.KeyMaterial{Data: original},
		Secret:   domain.KeyMaterial{Data: make([]byte, 32)},
	}, cp)
	require.NoError(t, err)
	defer kit.Close()

	reply, err := svc.SealReply(kit, domain.SecureEnvelope{Payload: []byte("peer response")}, originator.Public[:])
	require.NoError(t, err)

	// Round-trips under the originator's key to the original key bytes.
	opened, ok := box.OpenAnonymous(nil, reply.Envelope.EncryptedKey, &originator.Public, &originator.Private)
	require.True(t, ok)
	assert.Equal(t, original, opened)

	// And never under the counterparty's.
	_, ok = box.OpenAnonymous(nil, reply.Envelope.EncryptedKey, &cpKeys.Public, &cpKeys.Private)
	assert.False(t, ok)
}

func TestOpenInbound_TamperedHMACRejected(t *testing.T) {
	svc := testService(t)
	self := domain.Counterparty{ID: "self", SealingKey: func() []byte { k := svc.PublicKey(); return k[:] }()}

	env, err := EncryptFor([]byte(`{"identity":{},"transaction":{}}`), self)
	require.NoError(t, err)
	env.Payload[len(env.Payload)-1] ^= 0xFF

	_, err = svc.OpenInbound(env, domain.KindInformation)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidPayload))
}

func TestKitClose_WipesMaterial(t *testing.T) {
	kit := &Kit{key: []byte{1, 2, 3}, secret: []byte{4, 5, 6}}
	kit.Close()
	assert.Equal(t, []byte{0, 0, 0}, kit.key)
	assert.Equal(t, []byte{0, 0, 0}, kit.secret)

	var nilKit *Kit
	nilKit.Close()
}
