package identity

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/emrgen/docsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	ev, err := signer.Sign(context.Background(), model.EventTemplate{
		Kind:    model.KindDocument,
		Content: "hello",
		Tags:    model.Tags{{model.TagDocumentID, "doc"}},
	})
	require.NoError(t, err)

	assert.Equal(t, signer.PublicKey(), ev.PubKey)
	assert.Len(t, ev.ID, 64)
	assert.NotZero(t, ev.CreatedAt)
	assert.NoError(t, Verify(ev))
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	ev, err := signer.Sign(context.Background(), model.EventTemplate{Kind: model.KindDocument, Content: "a"})
	require.NoError(t, err)

	tampered := *ev
	tampered.Content = "b"
	assert.ErrorIs(t, Verify(&tampered), ErrIDMismatch)

	other, err := Generate()
	require.NoError(t, err)
	forged := *ev
	forged.PubKey = other.PublicKey()
	forged.ID = ""
	forged.ID = hexID(&forged)
	assert.ErrorIs(t, Verify(&forged), ErrInvalidSignature)
}

func TestFromHex(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	loaded, err := FromHex(signer.Seed())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), loaded.PublicKey())

	_, err = FromHex("not-hex")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = FromHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignIsDeterministicForFixedTime(t *testing.T) {
	signer, err := Generate()
	require.NoError(t, err)

	tmpl := model.EventTemplate{Kind: model.KindDocument, Content: "x", CreatedAt: 1700000000}
	a, err := signer.Sign(context.Background(), tmpl)
	require.NoError(t, err)
	b, err := signer.Sign(context.Background(), tmpl)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.Sig, b.Sig)
}

func hexID(ev *model.Event) string {
	return hex.EncodeToString(EventID(ev))
}
