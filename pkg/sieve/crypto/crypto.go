// Package crypto implements the wire-level confidentiality device
// described in spec.md §4.1/§6: a PBKDF2-derived, per-peer symmetric
// key used to AES-CBC encrypt every outbound datagram. This is the
// protocol's only integrity/authentication mechanism — there is no
// public-key signing (spec.md §1 Non-goals).
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// salt is the fixed 8-byte constant used for every key
	// derivation, matching original_source's communication.py.
	salt       = "12345678"
	iterations = 100000
	keyLength  = 16 // AES-128
)

var (
	ErrCiphertextTooShort = errors.New("sieve/crypto: ciphertext shorter than one block")
	ErrInvalidPadding     = errors.New("sieve/crypto: invalid PKCS#7 padding")
)

// DeriveKey turns a shared secret into the AES key used to talk to
// one specific peer.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), iterations, keyLength, sha256.New)
}

// Encrypt PKCS#7-pads plaintext, AES-CBC encrypts it under the key
// derived from secret, and prepends the IV used.
func Encrypt(secret string, plaintext []byte) ([]byte, error) {
	key := DeriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, len(iv)+len(ciphertext))
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt: it splits off the leading IV, AES-CBC
// decrypts the remainder under the key derived from secret, and
// strips the PKCS#7 padding.
func Decrypt(secret string, data []byte) ([]byte, error) {
	key := DeriveKey(secret)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	blockSize := block.BlockSize()
	if len(data) < blockSize {
		return nil, ErrCiphertextTooShort
	}

	iv, ciphertext := data[:blockSize], data[blockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, ErrCiphertextTooShort
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padLen], nil
}
