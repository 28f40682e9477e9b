// Package seal is the encryption delegate: given a request variant and a
// resolved route it performs the share of cryptographic work the gateway
// owes the client, producing a transport-ready secure envelope.
//
// Payloads are encrypted with NaCl secretbox under a per-exchange symmetric
// key; the key and the HMAC signing secret are sealed under the receiving
// party's X25519 public key with anonymous NaCl box. Plaintext key material
// lives only in the request-scoped Kit and is wiped when the kit is closed.
package seal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"liaison/internal/domain"
	dErrors "liaison/pkg/domain-errors"
)

const (
	encryptionAlgorithm = "NACL-SECRETBOX"
	hmacAlgorithm       = "HMAC-SHA256"
	nonceSize           = 24
)

// Service performs encryption delegation with the gateway's own keypair.
type Service struct {
	keys Keypair
}

// New constructs the delegate.
func New(keys Keypair) *Service {
	return &Service{keys: keys}
}

// PublicKey returns the gateway's sealing public key for clients that
// pre-seal key material toward the gateway.
func (s *Service) PublicKey() [32]byte { return s.keys.Public }

// Kit holds the plaintext symmetric key and signing secret for one exchange,
// kept only as long as the request needs a reply sealed under the
// originator's key. Close wipes the material.
type Kit struct {
	key    []byte
	secret []byte
}

// Close zeroes the key material. Safe to call on nil.
func (k *Kit) Close() {
	if k == nil {
		return
	}
	for i := range k.key {
		k.key[i] = 0
	}
	for i := range k.secret {
		k.secret[i] = 0
	}
}

// Prepare produces the transport-ready envelope for an outgoing variant.
//
// Passthrough envelopes pass unmodified and yield no kit. Cipher re-seals the
// client's key material under the counterparty's public key. Information
// assembles the whole envelope: fresh key and secret, payload encryption,
// HMAC, sealing. The returned kit, when non-nil, must be closed by the
// caller after any reply is sealed.
func (s *Service) Prepare(variant domain.RequestVariant, counterparty domain.Counterparty) (domain.SecureEnvelope, *Kit, error) {
	switch v := variant.(type) {
	case domain.Passthrough:
		return v.Envelope, nil, nil

	case domain.Cipher:
		key, err := s.unwrap(v.Key)
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		secret, err := s.unwrap(v.Secret)
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		env, err := s.sealMaterial(v.Envelope, key, secret, counterparty)
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		return env, &Kit{key: key, secret: secret}, nil

	case domain.Information:
		if len(v.Transaction) == 0 && len(v.Identity) == 0 {
			return domain.SecureEnvelope{}, nil, dErrors.New(dErrors.CodeInvalidPayload,
				"information variant carries neither identity nor transaction payload")
		}
		payload, err := json.Marshal(struct {
			Identity    json.RawMessage `json:"identity,omitempty"`
			Transaction json.RawMessage `json:"transaction,omitempty"`
		}{v.Identity, v.Transaction})
		if err != nil {
			return domain.SecureEnvelope{}, nil, dErrors.Wrap(err, dErrors.CodeInvalidPayload,
				"identity or transaction payload is not valid JSON")
		}

		key, secret, err := generateMaterial()
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		env, err := s.encryptAndSign(payload, key, secret)
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		env, err = s.sealMaterial(env, key, secret, counterparty)
		if err != nil {
			return domain.SecureEnvelope{}, nil, err
		}
		return env, &Kit{key: key, secret: secret}, nil

	default:
		return domain.SecureEnvelope{}, nil, dErrors.New(dErrors.CodeInvalidPayload,
			"request carries no recognizable variant")
	}
}

// SealReply re-seals the exchange's key material under the originator's
// public key, not the counterparty's, so the originating client can decrypt
// and audit the counterparty's response.
func (s *Service) SealReply(kit *Kit, reply domain.SecureEnvelope, originatorKey []byte) (domain.Cipher, error) {
	if kit == nil {
		return domain.Cipher{}, dErrors.New(dErrors.CodeInternal,
			"no key material retained for this exchange")
	}
	originator := domain.Counterparty{SealingKey: originatorKey}
	env, err := s.sealMaterial(reply, kit.key, kit.secret, originator)
	if err != nil {
		return domain.Cipher{}, err
	}
	return domain.Cipher{
		Envelope: env,
		Key:      domain.KeyMaterial{Data: env.EncryptedKey, Sealed: true},
		Secret:   domain.KeyMaterial{Data: env.EncryptedSecret, Sealed: true},
	}, nil
}

// SealForClient re-wraps a cipher variant's clear key material under the
// session client's sealing key, so plaintext keys never cross the callback
// stream.
func (s *Service) SealForClient(v domain.Cipher, clientKey []byte) (domain.Cipher, error) {
	env, err := s.sealMaterial(v.Envelope, v.Key.Data, v.Secret.Data, domain.Counterparty{SealingKey: clientKey})
	if err != nil {
		return domain.Cipher{}, err
	}
	return domain.Cipher{
		Envelope: env,
		Key:      domain.KeyMaterial{Data: env.EncryptedKey, Sealed: true},
		Secret:   domain.KeyMaterial{Data: env.EncryptedSecret, Sealed: true},
	}, nil
}

// OpenInbound transforms an inbound envelope sealed toward the gateway into
// the variant shape a session of the given mode expects.
//
// Passthrough sessions get the envelope untouched. Cipher sessions get the
// envelope plus the unsealed key material in the clear, payload still
// encrypted. Information sessions get the fully decrypted identity and
// transaction payloads.
func (s *Service) OpenInbound(env domain.SecureEnvelope, mode domain.VariantKind) (domain.RequestVariant, error) {
	switch mode {
	case domain.KindPassthrough:
		return domain.Passthrough{Envelope: env}, nil

	case domain.KindCipher:
		key, secret, err := s.unsealMaterial(env)
		if err != nil {
			return nil, err
		}
		return domain.Cipher{
			Envelope: env,
			Key:      domain.KeyMaterial{Data: key},
			Secret:   domain.KeyMaterial{Data: secret},
		}, nil

	case domain.KindInformation:
		key, secret, err := s.unsealMaterial(env)
		if err != nil {
			return nil, err
		}
		payload, err := decryptAndVerify(env, key, secret)
		if err != nil {
			return nil, err
		}
		var body struct {
			Identity    json.RawMessage `json:"identity"`
			Transaction json.RawMessage `json:"transaction"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidPayload,
				"decrypted payload is not a valid exchange body")
		}
		return domain.Information{Identity: body.Identity, Transaction: body.Transaction}, nil

	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidPayload, "unknown session mode %q", mode)
	}
}

// unwrap recovers plaintext key material that may be sealed under the
// gateway's own public key.
func (s *Service) unwrap(material domain.KeyMaterial) ([]byte, error) {
	if len(material.Data) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "cipher variant is missing key material")
	}
	if !material.Sealed {
		out := make([]byte, len(material.Data))
		copy(out, material.Data)
		return out, nil
	}
	plain, ok := box.OpenAnonymous(nil, material.Data, &s.keys.Public, &s.keys.Private)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidPayload,
			"key material was not sealed under this gateway's public key")
	}
	return plain, nil
}

// sealMaterial seals key and secret under the receiver's public key and
// stamps the envelope's sealing metadata.
func (s *Service) sealMaterial(env domain.SecureEnvelope, key, secret []byte, receiver domain.Counterparty) (domain.SecureEnvelope, error) {
	receiverKey, ok := asKey(receiver.SealingKey)
	if !ok {
		return domain.SecureEnvelope{}, dErrors.Newf(dErrors.CodeKeyUnavailable,
			"no sealing public key for counterparty %q", receiver.ID)
	}

	sealedKey, err := box.SealAnonymous(nil, key, &receiverKey, rand.Reader)
	if err != nil {
		return domain.SecureEnvelope{}, dErrors.Wrap(err, dErrors.CodeInternal, "seal symmetric key")
	}
	sealedSecret, err := box.SealAnonymous(nil, secret, &receiverKey, rand.Reader)
	if err != nil {
		return domain.SecureEnvelope{}, dErrors.Wrap(err, dErrors.CodeInternal, "seal signing secret")
	}

	env.EncryptedKey = sealedKey
	env.EncryptedSecret = sealedSecret
	env.EncryptionAlgorithm = encryptionAlgorithm
	env.HMACAlgorithm = hmacAlgorithm
	env.Sealed = true
	return env, nil
}

func (s *Service) unsealMaterial(env domain.SecureEnvelope) (key, secret []byte, err error) {
	if !env.Sealed {
		return nil, nil, dErrors.New(dErrors.CodeInvalidPayload, "inbound envelope is not sealed")
	}
	key, ok := box.OpenAnonymous(nil, env.EncryptedKey, &s.keys.Public, &s.keys.Private)
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeKeyUnavailable,
			"envelope key was not sealed under this gateway's public key")
	}
	secret, ok = box.OpenAnonymous(nil, env.EncryptedSecret, &s.keys.Public, &s.keys.Private)
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeKeyUnavailable,
			"envelope secret was not sealed under this gateway's public key")
	}
	return key, secret, nil
}

func (s *Service) encryptAndSign(payload, key, secret []byte) (domain.SecureEnvelope, error) {
	symKey, ok := asKey(key)
	if !ok {
		return domain.SecureEnvelope{}, dErrors.New(dErrors.CodeInvalidPayload,
			"symmetric key must be 32 bytes")
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return domain.SecureEnvelope{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}
	ciphertext := secretbox.Seal(nonce[:], payload, &nonce, &symKey)

	mac := hmac.New(sha256.New, secret)
	mac.Write(ciphertext)

	return domain.SecureEnvelope{
		Payload:             ciphertext,
		HMAC:                mac.Sum(nil),
		EncryptionAlgorithm: encryptionAlgorithm,
		HMACAlgorithm:       hmacAlgorithm,
	}, nil
}

func decryptAndVerify(env domain.SecureEnvelope, key, secret []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(env.Payload)
	if !hmac.Equal(mac.Sum(nil), env.HMAC) {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "envelope HMAC verification failed")
	}

	symKey, ok := asKey(key)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "unsealed symmetric key has wrong size")
	}
	if len(env.Payload) < nonceSize {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "envelope payload shorter than nonce")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], env.Payload[:nonceSize])

	plain, ok := secretbox.Open(nil, env.Payload[nonceSize:], &nonce, &symKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "envelope payload decryption failed")
	}
	return plain, nil
}

func generateMaterial() (key, secret []byte, err error) {
	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate symmetric key")
	}
	secret = make([]byte, keySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate signing secret")
	}
	return key, secret, nil
}

// EncryptFor builds a complete sealed envelope toward a counterparty from a
// raw payload. Used by tests and by the loopback peer to fabricate inbound
// traffic shaped exactly like production envelopes.
func EncryptFor(payload []byte, receiver domain.Counterparty) (domain.SecureEnvelope, error) {
	key, secret, err := generateMaterial()
	if err != nil {
		return domain.SecureEnvelope{}, err
	}
	tmp := &Service{}
	env, err := tmp.encryptAndSign(payload, key, secret)
	if err != nil {
		return domain.SecureEnvelope{}, err
	}
	env, err = tmp.sealMaterial(env, key, secret, receiver)
	if err != nil {
		return domain.SecureEnvelope{}, err
	}
	return env, nil
}
