package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	for _, doc := range []Doc{
		{"name": "alpha", "n": 1, "tags": []any{"red", "blue"}},
		{"name": "beta", "n": 2, "tags": []any{"blue"}},
		{"name": "Gamma", "n": 3},
		{"name": "delta", "n": nil},
	} {
		_, err := m.Create(ctx, "items", doc)
		require.NoError(t, err)
	}
	return m
}

func names(docs []Doc) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["name"].(string))
	}
	return out
}

func TestMemoryCreateAssignsULID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Create(ctx, "c", Doc{"x": 1})
	require.NoError(t, err)
	b, err := m.Create(ctx, "c", Doc{"x": 2})
	require.NoError(t, err)

	assert.NotEmpty(t, a[IDField])
	assert.NotEqual(t, a[IDField], b[IDField])

	// явный _id сохраняется
	c, err := m.Create(ctx, "c", Doc{IDField: "fixed", "x": 3})
	require.NoError(t, err)
	assert.Equal(t, "fixed", c[IDField])
}

func TestMemoryFilterOps(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"equality", Filter{"name": "alpha"}, 1},
		{"numeric equality across types", Filter{"n": float64(2)}, 1},
		{"in", Filter{"name": map[string]any{"$in": []any{"alpha", "beta"}}}, 2},
		{"in matches array element", Filter{"tags": map[string]any{"$in": []any{"red"}}}, 1},
		{"nin", Filter{"name": map[string]any{"$nin": []any{"alpha"}}}, 3},
		{"all", Filter{"tags": map[string]any{"$all": []any{"red", "blue"}}}, 1},
		{"ne", Filter{"name": map[string]any{"$ne": "alpha"}}, 3},
		{"regex case insensitive", Filter{"name": map[string]any{"$regex": "(?i)^ga"}}, 1},
		{"gt", Filter{"n": map[string]any{"$gt": 1}}, 2},
		{"gte", Filter{"n": map[string]any{"$gte": 1}}, 3},
		{"lt string compare", Filter{"name": map[string]any{"$lt": "beta"}}, 2},
		{"or", Filter{"$or": []Filter{{"name": "alpha"}, {"n": 3}}}, 2},
		{"empty filter matches all", Filter{}, 4},
		{"no match", Filter{"name": "omega"}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n, err := m.Count(ctx, "items", c.filter)
			require.NoError(t, err)
			assert.Equal(t, int64(c.want), n, "filter=%v", c.filter)
		})
	}
}

func TestMemoryProjection(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	docs, err := m.Find(ctx, "items", Filter{"name": "alpha"}, []string{"name"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	d := docs[0]
	assert.Contains(t, d, "name")
	assert.Contains(t, d, IDField) // _id отдаётся всегда
	assert.NotContains(t, d, "n")
	assert.NotContains(t, d, "tags")
}

func TestMemorySortNullsLast(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	docs, err := m.FindSort(ctx, "items", Filter{}, []string{"name", "n"},
		[]SortKey{{Field: "n"}})
	require.NoError(t, err)
	got := names(docs)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"alpha", "beta", "Gamma", "delta"}, got)

	docs, err = m.FindSort(ctx, "items", Filter{}, nil,
		[]SortKey{{Field: "n", Desc: true}})
	require.NoError(t, err)
	got = names(docs)
	// desc по значению, но null всё равно в конце
	assert.Equal(t, []string{"Gamma", "beta", "alpha", "delta"}, got)
}

func TestMemoryFindPage(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	keys := []SortKey{{Field: "name"}}

	page1, err := m.FindPage(ctx, "items", Filter{}, nil, keys, 0, 2)
	require.NoError(t, err)
	page2, err := m.FindPage(ctx, "items", Filter{}, nil, keys, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Len(t, page2, 2)

	// за пределами данных — пустая страница, не ошибка
	empty, err := m.FindPage(ctx, "items", Filter{}, nil, keys, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	n, err := m.Update(ctx, "items", Filter{"name": "alpha"}, Doc{"n": 100, IDField: "hack"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	d, err := m.FindOne(ctx, "items", Filter{"name": "alpha"}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 100, d["n"])
	assert.NotEqual(t, "hack", d[IDField]) // _id патчем не перетирается

	// alpha теперь n=100 и тоже попадает под фильтр
	n, err = m.Delete(ctx, "items", Filter{"n": map[string]any{"$gte": 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	total, err := m.Count(ctx, "items", Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMemoryArrayOps(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	f := Filter{"name": "beta"}

	require.NoError(t, m.Push(ctx, "items", f, "tags", "green"))
	require.NoError(t, m.AddToSet(ctx, "items", f, "tags", "green")) // дубль не добавится
	require.NoError(t, m.AddToSet(ctx, "items", f, "tags", "black"))

	d, err := m.FindOne(ctx, "items", f, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"blue", "green", "black"}, d["tags"])

	require.NoError(t, m.Pull(ctx, "items", f, "tags", "blue"))
	d, err = m.FindOne(ctx, "items", f, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"green", "black"}, d["tags"])
}

func TestMemorySum(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	sum, err := m.Sum(ctx, "items", Filter{}, "n")
	require.NoError(t, err)
	assert.Equal(t, 6.0, sum)

	sum, err = m.Sum(ctx, "items", Filter{"name": "alpha"}, "n")
	require.NoError(t, err)
	assert.Equal(t, 1.0, sum)
}

func TestMemoryIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	created, err := m.Create(ctx, "c", Doc{"x": 1})
	require.NoError(t, err)

	// мутация возвращённого документа не трогает хранилище
	created["x"] = 999
	d, err := m.FindOne(ctx, "c", Filter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d["x"])
}
