package hashchain

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msglog/pkg/platform/digest"
	"msglog/pkg/testutil"
)

func leaves(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		sum, err := digest.SumBase64(digest.SHA256, []byte(fmt.Sprintf("signature-%d", i)))
		require.NoError(t, err)
		out[i] = sum
	}
	return out
}

func TestBuild(t *testing.T) {
	testutil.Given(t, "batches of various sizes", func(t *testing.T) {
		for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
			t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
				in := leaves(t, n)
				batch, err := Build(digest.SHA256, in)
				require.NoError(t, err)
				require.Len(t, batch.Chains, n)

				for i, leaf := range in {
					assert.NoError(t, Verify(batch.Chains[i], leaf, batch.Root), "leaf %d", i)
				}
			})
		}
	})

	testutil.Given(t, "no leaves", func(t *testing.T) {
		_, err := Build(digest.SHA256, nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	testutil.Given(t, "a leaf that is not base64", func(t *testing.T) {
		_, err := Build(digest.SHA256, []string{"not base64!"})
		assert.Error(t, err)
	})

	testutil.Given(t, "the same leaves in a different order", func(t *testing.T) {
		in := leaves(t, 3)
		a, err := Build(digest.SHA256, in)
		require.NoError(t, err)
		b, err := Build(digest.SHA256, []string{in[1], in[0], in[2]})
		require.NoError(t, err)
		assert.NotEqual(t, a.Root, b.Root)
	})
}

func TestVerify(t *testing.T) {
	in := leaves(t, 4)
	batch, err := Build(digest.SHA512, in)
	require.NoError(t, err)

	testutil.When(t, "the chain is presented for another leaf", func(t *testing.T) {
		assert.ErrorIs(t, Verify(batch.Chains[0], in[1], batch.Root), ErrMismatch)
	})

	testutil.When(t, "the root is different", func(t *testing.T) {
		other := base64.StdEncoding.EncodeToString([]byte("other"))
		assert.ErrorIs(t, Verify(batch.Chains[0], in[0], other), ErrMismatch)
	})

	testutil.When(t, "a path step was tampered with", func(t *testing.T) {
		c, err := Parse(batch.Chains[2])
		require.NoError(t, err)
		c.Path[0].Left = !c.Path[0].Left
		root, err := c.ComputeRoot()
		require.NoError(t, err)
		assert.NotEqual(t, batch.Root, root)
	})

	testutil.When(t, "the chain is not JSON", func(t *testing.T) {
		assert.Error(t, Verify("{", in[0], batch.Root))
	})
}
