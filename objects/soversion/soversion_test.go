package soversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anyproto/anytype-object-store/domain"
	"github.com/anyproto/anytype-object-store/objects/soerror"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		token := Encode(42, 7)
		seqNo, primaryTerm, err := Decode(token)
		require.NoError(t, err)
		assert.Equal(t, int64(42), seqNo)
		assert.Equal(t, int64(7), primaryTerm)
	})
	t.Run("zero pair", func(t *testing.T) {
		seqNo, primaryTerm, err := Decode(Encode(0, 0))
		require.NoError(t, err)
		assert.Zero(t, seqNo)
		assert.Zero(t, primaryTerm)
	})
	t.Run("stable", func(t *testing.T) {
		assert.Equal(t, Encode(1, 2), Encode(1, 2))
		assert.NotEqual(t, Encode(1, 2), Encode(2, 1))
	})
}

func TestEncodeDoc(t *testing.T) {
	doc := &domain.RawDoc{SeqNo: 5, PrimaryTerm: 3}
	assert.Equal(t, Encode(5, 3), EncodeDoc(doc))
}

func TestDecodeInvalid(t *testing.T) {
	for _, token := range []string{
		"",
		"not base64!",
		"bm90IGpzb24=",         // "not json"
		Encode(-1, 1),
		Encode(1, -1),
	} {
		_, _, err := Decode(token)
		assert.ErrorIs(t, err, soerror.BadRequest, "token %q", token)
	}
}
