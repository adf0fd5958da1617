// Package filecipher moves file bodies through an AEAD.
//
// The stored stream is nonce || ciphertext; the tag is returned detached so it can be kept in the
// file's metadata row. The whole body is authenticated as one message, so decryption buffers the
// ciphertext, verifies the tag and only then releases plaintext.
package filecipher

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/errs"
)

// ChunkSize is the I/O granularity for both directions.
const ChunkSize = 4096

// DefaultMaxSize bounds the plaintext a single stream may carry.
const DefaultMaxSize = 64 << 20

// Cipher encrypts and decrypts file streams with one algorithm.
type Cipher struct {
	alg     pkgcrypto.Algorithm
	maxSize int64
}

// New returns a Cipher. A non-positive maxSize selects DefaultMaxSize.
func New(alg pkgcrypto.Algorithm, maxSize int64) *Cipher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cipher{alg: alg, maxSize: maxSize}
}

// Algorithm reports the AEAD this cipher uses.
func (c *Cipher) Algorithm() pkgcrypto.Algorithm { return c.alg }

// Result describes an encrypted stream.
type Result struct {
	Nonce   []byte
	Tag     []byte
	Written int64 // bytes written to the sink, nonce included
}

// EncryptStream reads src to EOF, encrypts it under dek and writes nonce || ciphertext to sink.
func (c *Cipher) EncryptStream(src io.Reader, sink io.Writer, dek []byte) (Result, error) {
	plain, err := readAll(src, c.maxSize)
	if err != nil {
		return Result{}, err
	}
	ct, nonce, tag, err := pkgcrypto.Seal(c.alg, dek, plain)
	if err != nil {
		return Result{}, fmt.Errorf("seal body: %w", err)
	}

	n, err := sink.Write(nonce)
	written := int64(n)
	if err != nil {
		return Result{}, fmt.Errorf("write nonce: %w", err)
	}
	m, err := writeChunks(sink, ct)
	written += m
	if err != nil {
		return Result{}, fmt.Errorf("write ciphertext: %w", err)
	}
	return Result{Nonce: nonce, Tag: tag, Written: written}, nil
}

// DecryptStream reads nonce || ciphertext from src and writes the plaintext to sink only after the
// tag verified. If expectedNonce is non-empty it must equal the stream prefix. Every integrity
// failure is errs.ErrAuthenticationFailed and leaves sink untouched.
func (c *Cipher) DecryptStream(src io.Reader, sink io.Writer, dek, tag, expectedNonce []byte) (int64, error) {
	nonce := make([]byte, pkgcrypto.NonceSize)
	if _, err := io.ReadFull(src, nonce); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, errs.ErrAuthenticationFailed
		}
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	if len(expectedNonce) > 0 && subtle.ConstantTimeCompare(nonce, expectedNonce) != 1 {
		return 0, errs.ErrAuthenticationFailed
	}

	ct, err := readAll(src, c.maxSize)
	if err != nil {
		return 0, err
	}
	plain, err := pkgcrypto.Open(c.alg, dek, nonce, ct, tag)
	if err != nil {
		return 0, err
	}
	n, err := writeChunks(sink, plain)
	if err != nil {
		return n, fmt.Errorf("write plaintext: %w", err)
	}
	return n, nil
}

// readAll drains r in ChunkSize reads, failing with errs.ErrTooLarge past limit bytes.
func readAll(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(buf.Len()+n) > limit {
				return nil, fmt.Errorf("body exceeds %d bytes: %w", limit, errs.ErrTooLarge)
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
}

func writeChunks(w io.Writer, p []byte) (int64, error) {
	var total int64
	for len(p) > 0 {
		k := min(len(p), ChunkSize)
		n, err := w.Write(p[:k])
		total += int64(n)
		if err != nil {
			return total, err
		}
		p = p[k:]
	}
	return total, nil
}
