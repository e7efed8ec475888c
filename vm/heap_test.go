package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) (*Image, *Heap) {
	t.Helper()
	img := newTestImage(t, 4000, 512)
	return img, NewHeap(img, 2048)
}

func TestHeapAddAndGet(t *testing.T) {
	_, heap := newTestHeap(t)

	addr := heap.HeapAdd(cellTypeString, []byte("ab"), true)
	require.NotZero(t, addr)
	require.Equal(t, "ab", string(heap.HeapGet(addr)))
}

func TestCatStrings(t *testing.T) {
	_, heap := newTestHeap(t)

	a := heap.HeapAdd(cellTypeString, []byte("ab"), true)
	b := heap.HeapAdd(cellTypeString, []byte("cd"), true)

	cat := heap.CatStrings(a, b)
	require.Equal(t, "abcd", string(heap.HeapGet(cat)))
	require.Equal(t, 0, heap.CmpStrings(cat, heap.HeapAdd(cellTypeString, []byte("abcd"), true)))
}

func TestRefcountFreeAndReuse(t *testing.T) {
	img, heap := newTestHeap(t)

	a := heap.HeapAdd(cellTypeString, []byte("ab"), true)
	hpAfterAlloc := img.HP()

	heap.DecRef(a)
	require.Less(t, img.HP(), hpAfterAlloc)

	b := heap.HeapAdd(cellTypeString, []byte("xy"), true)
	require.Equal(t, "xy", string(heap.HeapGet(b)))
}

func TestListPreaddPostaddCatLists(t *testing.T) {
	_, heap := newTestHeap(t)

	list := heap.HeapAdd(cellTypeList, heap.encodeListResolved([]Value{
		{Type: TypeInteger, Int: 2},
		{Type: TypeInteger, Int: 3},
	}), true)

	pre := heap.Preadd(Value{Type: TypeInteger, Int: 1}, list)
	require.Equal(t, []int32{1, 2, 3}, intsOf(heap.decodeListValues(pre)))

	post := heap.Postadd(list, Value{Type: TypeInteger, Int: 4})
	require.Equal(t, []int32{2, 3, 4}, intsOf(heap.decodeListValues(post)))

	cat := heap.CatLists(pre, post)
	require.Equal(t, []int32{1, 2, 3, 2, 3, 4}, intsOf(heap.decodeListValues(cat)))
}

func intsOf(values []Value) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = v.Int
	}
	return out
}

func TestCmpLists(t *testing.T) {
	_, heap := newTestHeap(t)

	a := heap.HeapAdd(cellTypeList, heap.encodeListResolved([]Value{{Type: TypeInteger, Int: 1}}), true)
	b := heap.HeapAdd(cellTypeList, heap.encodeListResolved([]Value{{Type: TypeInteger, Int: 1}}), true)
	c := heap.HeapAdd(cellTypeList, heap.encodeListResolved([]Value{{Type: TypeInteger, Int: 2}}), true)

	require.Equal(t, 0, heap.CmpLists(a, b))
	require.NotEqual(t, 0, heap.CmpLists(a, c))
}

func TestValidKey(t *testing.T) {
	require.True(t, ValidKey("550e8400-e29b-41d4-a716-446655440000"))
	require.False(t, ValidKey("00000000-0000-0000-0000-000000000000"))
	require.False(t, ValidKey("not-a-uuid"))
}
