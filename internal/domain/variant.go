package domain

import "encoding/json"

// RequestVariant is the closed set of payload shapes a transfer, callback, or
// queued message can carry. Exactly one variant is populated per request; the
// variant decides how much cryptographic work the gateway owes the client.
//
// Consumers must switch over all three concrete types and treat any other
// value as invalid. The unexported method keeps the set closed to this
// package.
type RequestVariant interface {
	isVariant()
}

// Passthrough carries an already-complete secure envelope. The gateway only
// moves it to the counterparty over a secured channel and performs no
// cryptographic transformation.
type Passthrough struct {
	Envelope SecureEnvelope `json:"envelope"`
}

// Cipher carries an envelope whose payload the client encrypted itself, plus
// the symmetric key and signing secret the gateway must re-seal under the
// counterparty's public key. Key and Secret travel either in the clear or
// sealed under the gateway's own public key (Sealed flag on the material).
type Cipher struct {
	Envelope SecureEnvelope `json:"envelope"`
	Key      KeyMaterial    `json:"key"`
	Secret   KeyMaterial    `json:"secret"`
}

// Information carries raw identity and transaction payloads. The gateway
// assembles the envelope end to end: fresh symmetric key and signing secret,
// payload encryption, signature, key sealing.
type Information struct {
	Identity    json.RawMessage `json:"identity"`
	Transaction json.RawMessage `json:"transaction"`
}

func (Passthrough) isVariant() {}
func (Cipher) isVariant()      {}
func (Information) isVariant() {}

// KeyMaterial is a symmetric key or signing secret in transit. Sealed
// indicates the bytes are encrypted under the gateway's public key and must
// be unsealed before use.
type KeyMaterial struct {
	Data   []byte `json:"data"`
	Sealed bool   `json:"sealed,omitempty"`
}

// SecureEnvelope is the transport-ready encrypted-and-signed payload
// container exchanged with a counterparty. EncryptedKey and EncryptedSecret
// are sealed under the receiver's public key; on reply paths they are sealed
// under the originator's key instead so the originating client can audit the
// exchange.
type SecureEnvelope struct {
	ExchangeID          string `json:"exchange_id"`
	Payload             []byte `json:"payload"`
	EncryptedKey        []byte `json:"encrypted_key,omitempty"`
	EncryptedSecret     []byte `json:"encrypted_secret,omitempty"`
	EncryptionAlgorithm string `json:"encryption_algorithm,omitempty"`
	HMAC                []byte `json:"hmac,omitempty"`
	HMACAlgorithm       string `json:"hmac_algorithm,omitempty"`
	Sealed              bool   `json:"sealed"`
	SealingKeyID        string `json:"sealing_key_id,omitempty"`
}

// VariantKind names a RequestVariant alternative for wire and storage
// encodings.
type VariantKind string

const (
	KindPassthrough VariantKind = "passthrough"
	KindCipher      VariantKind = "cipher"
	KindInformation VariantKind = "information"
)

// KindOf reports which alternative v is. Returns the empty string for nil or
// foreign values, which callers must reject as invalid payloads.
func KindOf(v RequestVariant) VariantKind {
	switch v.(type) {
	case Passthrough:
		return KindPassthrough
	case Cipher:
		return KindCipher
	case Information:
		return KindInformation
	default:
		return ""
	}
}
