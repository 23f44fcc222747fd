package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

// Wallet is a freshly generated or decrypted signing key with its derived
// address.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address string
}

// Generate creates a new random wallet.
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "generate wallet key", err)
	}
	return &Wallet{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// FromKey rebuilds a wallet from an existing private key.
func FromKey(key *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// Cipher encrypts private keys at rest with AES-256-CBC. The stored form is
// "<iv-hex>:<ciphertext-hex>" with a fresh IV per encryption.
type Cipher struct {
	key [32]byte
}

// NewCipher derives the AES key from the configured secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, boterr.New(boterr.KindInvalidInput, "wallet encryption secret is empty")
	}
	return &Cipher{key: sha256.Sum256([]byte(secret))}, nil
}

// Encrypt seals a private key for storage.
func (c *Cipher) Encrypt(key *ecdsa.PrivateKey) (string, error) {
	plain := pad(crypto.FromECDSA(key))

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", boterr.Wrap(boterr.KindInternal, "generate iv", err)
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return "", boterr.Wrap(boterr.KindInternal, "init cipher", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt opens a stored private key.
func (c *Cipher) Decrypt(stored string) (*ecdsa.PrivateKey, error) {
	ivHex, dataHex, ok := strings.Cut(stored, ":")
	if !ok {
		return nil, boterr.New(boterr.KindInvalidInput, "malformed encrypted key")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, boterr.New(boterr.KindInvalidInput, "malformed iv")
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, boterr.New(boterr.KindInvalidInput, "malformed ciphertext")
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, boterr.Wrap(boterr.KindInternal, "init cipher", err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	plain, err = unpad(plain)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(plain)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindInvalidInput, "decrypted bytes are not a valid key", err)
	}
	return key, nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, boterr.New(boterr.KindInvalidInput, "empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, boterr.New(boterr.KindInvalidInput, "invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, boterr.New(boterr.KindInvalidInput, "invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
