package envelope

import (
	"bytes"
	"fmt"
	"testing"

	pkgcrypto "github.com/and161185/safe-folder/internal/crypto"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, alg pkgcrypto.Algorithm) *Service {
	t.Helper()
	raw, err := pkgcrypto.RandBytes(pkgcrypto.KeySize)
	require.NoError(t, err)
	mk, err := NewMasterKey(raw)
	require.NoError(t, err)
	s, err := New(mk, alg)
	require.NoError(t, err)
	return s
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, alg := range []pkgcrypto.Algorithm{pkgcrypto.AES256GCM, pkgcrypto.ChaCha20Poly1305} {
		s := newService(t, alg)
		dek, err := s.GenerateDEK()
		require.NoError(t, err)
		require.Len(t, dek, 32)

		w, err := s.Wrap(dek)
		require.NoError(t, err)
		require.Len(t, w.Nonce, 12)
		require.Len(t, w.Tag, 16)
		require.NotEqual(t, dek, w.Ciphertext)

		out, err := s.Unwrap(alg, w)
		require.NoError(t, err)
		require.Equal(t, dek, out)
	}
}

func TestUnwrap_TamperEveryByte(t *testing.T) {
	t.Parallel()

	s := newService(t, pkgcrypto.AES256GCM)
	dek, _ := s.GenerateDEK()
	w, err := s.Wrap(dek)
	require.NoError(t, err)

	fields := map[string]func(model.WrappedKey) []byte{
		"ciphertext": func(k model.WrappedKey) []byte { return k.Ciphertext },
		"nonce":      func(k model.WrappedKey) []byte { return k.Nonce },
		"tag":        func(k model.WrappedKey) []byte { return k.Tag },
	}
	for name, get := range fields {
		for i := range get(w) {
			tampered := model.WrappedKey{
				Ciphertext: bytes.Clone(w.Ciphertext),
				Nonce:      bytes.Clone(w.Nonce),
				Tag:        bytes.Clone(w.Tag),
			}
			get(tampered)[i] ^= 0x80
			_, err := s.Unwrap(pkgcrypto.AES256GCM, tampered)
			require.ErrorIs(t, err, errs.ErrAuthenticationFailed, "%s byte %d", name, i)
		}
	}
}

func TestUnwrap_WrongMasterKey(t *testing.T) {
	t.Parallel()

	a := newService(t, pkgcrypto.AES256GCM)
	b := newService(t, pkgcrypto.AES256GCM)
	dek, _ := a.GenerateDEK()
	w, err := a.Wrap(dek)
	require.NoError(t, err)

	_, err = b.Unwrap(pkgcrypto.AES256GCM, w)
	require.ErrorIs(t, err, errs.ErrAuthenticationFailed)
}

func TestMasterKeyFromSecret_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := MasterKeyFromSecret("app-secret", pkgcrypto.MinIterations)
	require.NoError(t, err)
	b, err := MasterKeyFromSecret("app-secret", pkgcrypto.MinIterations)
	require.NoError(t, err)

	sa, _ := New(a, pkgcrypto.AES256GCM)
	sb, _ := New(b, pkgcrypto.AES256GCM)
	dek, _ := sa.GenerateDEK()
	w, err := sa.Wrap(dek)
	require.NoError(t, err)
	out, err := sb.Unwrap(pkgcrypto.AES256GCM, w)
	require.NoError(t, err, "a restarted process must unwrap keys wrapped before")
	require.Equal(t, dek, out)

	_, err = MasterKeyFromSecret("", pkgcrypto.MinIterations)
	require.Error(t, err)
}

func TestMasterKey_NotPrinted(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0xAB}, 32)
	mk, err := NewMasterKey(raw)
	require.NoError(t, err)
	require.Equal(t, "MasterKey(redacted)", fmt.Sprint(mk))
	require.Equal(t, "MasterKey(redacted)", fmt.Sprintf("%v", mk))

	_, err = NewMasterKey(raw[:16])
	require.Error(t, err)
	_, err = New(MasterKey{}, pkgcrypto.AES256GCM)
	require.Error(t, err)
}
